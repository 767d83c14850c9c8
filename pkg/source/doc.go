/*
Package source provides the desired-state feeds the reconciler consumes.

FilesystemSource watches a directory holding one address space declaration
per YAML file:

	name: tenant-a
	type: standard
	plan: standard-small
	addresses:
	  - name: orders
	    address: orders
	    type: queue
	    plan: small-queue

Every change to a file is debounced and then published as an added,
modified or deleted delta. Every ResyncInterval the whole directory is
published as a listing, so consumers converge even if a delta is lost.
Files that fail to parse are logged and skipped.

WriteSpace writes a declaration atomically, which is how the apply command
hands new desired state to a running controller.

StaticSource is an in-memory source for tests and embedding.
*/
package source
