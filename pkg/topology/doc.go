/*
Package topology translates the per-node leaves of a selected resource
subtree (hostname + topology digest) into the cluster ranks the
execution service addresses jobs by.

Load tries a caller-supplied, ordered list of Reader backends and keeps
the first successful result. Cache persists the result in an embedded
bbolt database so a restart doesn't need to repeat the blocking read.
BuildLookupTable indexes the cached blobs for normal-mode
(hostname+digest) or simulator-mode (digest-only) resolution.
*/
package topology
