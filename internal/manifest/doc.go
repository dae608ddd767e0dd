// Package manifest loads layer trees and the Kubernetes-style documents they
// declare.
//
// A layer tree is a directory hierarchy in which every directory holding a
// layer.yaml file is one layer:
//
//	apiVersion: rigger.io/v1
//	kind: Layer
//	name: prod
//	bases: [base]
//	resources: [deployment.yaml]
//	patches:
//	  - path: replicas.yaml
//	generators:
//	  - kind: ConfigMap
//	    name: app-config
//	    literals: [LOG_LEVEL=info]
//
// Documents are held as generic trees (map[string]any) so that any kind,
// including custom resources, survives a load/patch/emit round trip. The
// identity of a document is its (kind, namespace, name) triple, see [ID].
//
// Loading is the only stage that touches the filesystem: generator sources
// (env files, plain files and SOPS-encrypted files) are read here, so that
// resolution downstream is a pure function of the loaded tree.
package manifest
