// Package docker builds and pushes container images for a deploy run.
//
// Builds shell out to "docker buildx build" so that cache import and export
// work the same as on a developer machine. Pushes go through the Docker SDK,
// which reports progress as a JSON message stream.
//
// # Interface Abstraction
//
// The DockerAPI interface abstracts the Docker SDK, enabling mock injection
// for testing. Use NewClientWithAPI for test scenarios.
//
// # Example
//
//	client, err := docker.NewClient()
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Push(ctx, "registry.example.com/web:abc1234", auth)
package docker
