// Package resource implements the hierarchical resource inventory and its
// matching primitives (find, select, allocate, reserve, release), plus the
// builder that turns a job's resource spec into a request tree. Nothing
// here is aware of jobs beyond the bare int64 id used to tag a subtree.
package resource

import (
	"math"

	"github.com/cuemby/qsched/pkg/qerr"
	"github.com/cuemby/qsched/pkg/types"
)

// Kind identifies what a tree node or request node represents.
type Kind string

const (
	KindCluster Kind = "cluster"
	KindNode    Kind = "node"
	KindCore    Kind = "core"
	KindGPU     Kind = "gpu"
)

// Node is one vertex of the resource inventory tree. Leaves carry a hostname
// and topology digest; internal nodes group leaves (e.g. a node groups its
// cores and GPUs).
type Node struct {
	Kind     Kind
	Hostname string
	Digest   string
	State    types.NodeState
	JobID    int64
	Interval types.Interval
	Children []*Node

	// staged/found are scratch flags used during a single find/select
	// pass; see Unstage/ClearFound.
	staged bool
	found  bool
}

// NewNode constructs an idle node of the given kind.
func NewNode(kind Kind, hostname string) *Node {
	return &Node{Kind: kind, Hostname: hostname, State: types.NodeIdle}
}

// Unstage clears the staged flag across the subtree, in preparation for a
// new selection pass.
func (n *Node) Unstage() {
	n.staged = false
	for _, c := range n.Children {
		c.Unstage()
	}
}

// ClearFound clears the found flag across the subtree.
func (n *Node) ClearFound() {
	n.found = false
	for _, c := range n.Children {
		c.ClearFound()
	}
}

// Leaves returns every leaf (childless) node in the subtree.
func (n *Node) Leaves() []*Node {
	if len(n.Children) == 0 {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}

// MatchHostname returns every node in the subtree (at any depth) whose
// Hostname equals hostname.
func (n *Node) MatchHostname(hostname string) []*Node {
	var out []*Node
	if n.Hostname == hostname {
		out = append(out, n)
	}
	for _, c := range n.Children {
		out = append(out, c.MatchHostname(hostname)...)
	}
	return out
}

// Request is a node of a resource-request tree, built from a job's
// ResourceSpec by Build.
type Request struct {
	Kind      Kind
	Quantity  int
	Size      int
	Exclusive bool
	Interval  types.Interval
	Children  []*Request
}

// Build turns a job's resource spec into a request tree. It returns the
// tree together with the derived cores-per-node and GPUs-per-node values
// the caller is responsible for storing back onto the job; resource never
// holds a reference to a job.
func Build(spec types.ResourceSpec, starttime int64) (req *Request, coresPerNode int, gpusPerNode int, err error) {
	walltime := spec.Walltime
	if walltime <= 0 {
		walltime = types.DefaultWalltime
	}
	iv := types.Interval{Start: starttime, End: starttime + walltime}

	switch {
	case spec.Nnodes > 0:
		coresPerNode = ceilDiv(maxInt(spec.Ncores, spec.Nnodes), spec.Nnodes)

		size := 0
		if spec.NodeExclusive {
			size = 1
		}
		top := &Request{
			Kind:      KindNode,
			Quantity:  spec.Nnodes,
			Size:      size,
			Exclusive: spec.NodeExclusive,
			Interval:  iv,
		}
		top.Children = append(top.Children, &Request{
			Kind:      KindCore,
			Quantity:  coresPerNode,
			Size:      1,
			Exclusive: true,
			Interval:  iv,
		})
		if spec.Ngpus > 0 {
			gpusPerNode = ceilDiv(spec.Ngpus, spec.Nnodes)
			top.Children = append(top.Children, &Request{
				Kind:      KindGPU,
				Quantity:  gpusPerNode,
				Size:      1,
				Exclusive: true,
				Interval:  iv,
			})
		}
		return top, coresPerNode, gpusPerNode, nil

	case spec.Ncores > 0:
		return &Request{
			Kind:      KindCore,
			Quantity:  spec.Ncores,
			Size:      1,
			Exclusive: true,
			Interval:  iv,
		}, 0, 0, nil

	default:
		return nil, 0, 0, qerr.New(qerr.InvalidArg, "resource request has no nodes or cores")
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return int(math.Ceil(float64(a) / float64(b)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// FindResources walks root looking for branches that can serve req,
// returning a count of matches and a candidate subtree the selection pass
// can subsequently narrow. A flat request (no children) matches idle
// leaves of req.Kind; a hierarchical request matches internal nodes of
// req.Kind whose own children hold enough idle leaves to serve every
// child request. FindResources never mutates root.
func FindResources(root *Node, req *Request) (count int, candidates *Node, err error) {
	if root == nil || req == nil {
		return 0, nil, qerr.New(qerr.InvalidArg, "find_resources requires a root and a request")
	}
	if len(req.Children) > 0 {
		candidates = findNodes(root, req)
	} else {
		candidates = findLeaves(root, req.Kind)
	}
	if candidates == nil {
		return 0, nil, nil
	}
	return len(matchesOfKind(candidates, req.Kind)), candidates, nil
}

// findLeaves returns a view of the tree rooted at n containing only idle
// leaves of kind, pruned to subtrees with at least one match. Matches
// are the actual node pointers from the live tree (never copies) so that
// a later select/allocate pass mutates the real inventory; internal
// grouping nodes are synthetic wrappers that exist only to hold the kept
// children.
func findLeaves(n *Node, kind Kind) *Node {
	if len(n.Children) == 0 {
		if n.Kind == kind && n.State == types.NodeIdle {
			return n
		}
		return nil
	}
	var kept []*Node
	for _, c := range n.Children {
		if m := findLeaves(c, kind); m != nil {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &Node{Kind: n.Kind, State: n.State, Children: kept}
}

// findNodes returns a view of the tree containing the internal nodes of
// req.Kind that can serve every child request from their own children.
// Matched nodes are live pointers, kept whole so selection can pick
// leaves out of them; grouping ancestors are synthetic wrappers.
func findNodes(n *Node, req *Request) *Node {
	if n.Kind == req.Kind && n.State == types.NodeIdle && canServe(n, req.Children) {
		return n
	}
	var kept []*Node
	for _, c := range n.Children {
		if m := findNodes(c, req); m != nil {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &Node{Kind: n.Kind, State: n.State, Children: kept}
}

// canServe reports whether n's direct children hold at least
// child.Quantity idle leaves of the child's kind for every child request.
func canServe(n *Node, children []*Request) bool {
	for _, child := range children {
		idle := 0
		for _, c := range n.Children {
			if c.Kind == child.Kind && c.State == types.NodeIdle {
				idle++
			}
		}
		if idle < child.Quantity {
			return false
		}
	}
	return true
}

// matchesOfKind returns every node of kind in the candidate view without
// descending past a match (a matched node's children are its payload,
// not further candidates).
func matchesOfKind(n *Node, kind Kind) []*Node {
	if n.Kind == kind {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		out = append(out, matchesOfKind(c, kind)...)
	}
	return out
}

// SelectResources narrows candidates down to exactly req.Quantity
// matches (first-fit over the candidate set), marking the chosen leaves
// staged/found. For a flat request the matches are leaves; for a
// hierarchical request they are nodes, and each selected node
// contributes the per-child-request leaf quantities out of its own
// children (the whole node when the request is exclusive). prior, if
// non-nil, is consulted so out-of-order-capable plugins can prefer
// previously reserved resources first; the default selection here
// ignores it beyond trying its matches first.
func SelectResources(candidates *Node, req *Request, prior *Node) (*Node, error) {
	if candidates == nil || req == nil {
		return nil, nil
	}
	matches := matchesOfKind(candidates, req.Kind)
	if prior != nil {
		// prior is a previously selected wrapper; its children, not the
		// wrapper itself, are the matches to retry first.
		var fromPrior []*Node
		for _, c := range prior.Children {
			fromPrior = append(fromPrior, matchesOfKind(c, req.Kind)...)
		}
		matches = append(fromPrior, matches...)
	}
	if req.Quantity <= 0 || len(matches) < req.Quantity {
		return nil, nil
	}

	if len(req.Children) == 0 {
		selected := &Node{Kind: req.Kind, State: types.NodeIdle}
		for i := 0; i < req.Quantity; i++ {
			matches[i].staged = true
			matches[i].found = true
			selected.Children = append(selected.Children, matches[i])
		}
		return selected, nil
	}

	selected := &Node{Kind: req.Kind, State: types.NodeIdle}
	for _, n := range matches {
		if len(selected.Children) == req.Quantity {
			break
		}
		if picked := selectFromNode(n, req); picked != nil {
			selected.Children = append(selected.Children, picked)
		}
	}
	if len(selected.Children) < req.Quantity {
		return nil, nil
	}
	return selected, nil
}

// selectFromNode picks child.Quantity unstaged idle leaves of each child
// request's kind out of n's children, wrapped in a node-shaped view
// carrying n's hostname and digest. An exclusive request takes the live
// node whole, staging every child. Returns nil if any child request
// can't be met.
func selectFromNode(n *Node, req *Request) *Node {
	if req.Exclusive {
		for _, c := range n.Children {
			if c.State != types.NodeIdle || c.staged {
				return nil
			}
		}
		for _, c := range n.Children {
			c.staged = true
			c.found = true
		}
		return n
	}

	picked := &Node{Kind: n.Kind, Hostname: n.Hostname, Digest: n.Digest, State: n.State}
	for _, child := range req.Children {
		taken := 0
		for _, c := range n.Children {
			if taken == child.Quantity {
				break
			}
			if c.Kind == child.Kind && c.State == types.NodeIdle && !c.staged {
				c.staged = true
				c.found = true
				picked.Children = append(picked.Children, c)
				taken++
			}
		}
		if taken < child.Quantity {
			return nil
		}
	}
	return picked
}

// AllocateResources tags every leaf of selected with jobID and interval,
// transitioning each leaf to the allocated state.
func AllocateResources(selected *Node, jobID int64, interval types.Interval) error {
	if selected == nil {
		return qerr.New(qerr.InvalidArg, "allocate_resources requires a selected subtree")
	}
	for _, leaf := range selected.Leaves() {
		leaf.State = types.NodeAllocated
		leaf.JobID = jobID
		leaf.Interval = interval
	}
	return nil
}

// ReserveResources attempts to tag *selectedPtr for a future interval rather
// than allocating immediately. On failure, the caller is responsible for
// destroying the selected subtree; ReserveResources itself never
// deallocates its argument.
func ReserveResources(selectedPtr **Node, jobID int64, start int64, walltime int64, root *Node, req *Request) error {
	if selectedPtr == nil || *selectedPtr == nil {
		return qerr.New(qerr.ResourceExhausted, "reserve_resources requires a selected subtree")
	}
	if walltime <= 0 {
		walltime = types.DefaultWalltime
	}
	iv := types.Interval{Start: start, End: start + walltime}
	for _, leaf := range (*selectedPtr).Leaves() {
		leaf.JobID = jobID
		leaf.Interval = iv
	}
	return nil
}

// Release clears jobID's tags from every leaf of subtree and returns it to
// idle. After release, no leaf carries jobID.
func Release(subtree *Node, jobID int64) {
	if subtree == nil {
		return
	}
	for _, leaf := range subtree.Leaves() {
		if leaf.JobID == jobID {
			leaf.JobID = 0
			leaf.State = types.NodeIdle
			leaf.Interval = types.Interval{}
		}
	}
}

// ReleaseReservations walks the whole tree and releases every node that is
// tagged with a future (not-yet-started) interval, used when an
// out-of-order-capable behavior plugin re-establishes reservations each
// pass.
func ReleaseReservations(root *Node, now int64) {
	if root == nil {
		return
	}
	for _, leaf := range root.Leaves() {
		if leaf.JobID != 0 && leaf.Interval.Start > now {
			leaf.State = types.NodeIdle
			leaf.JobID = 0
			leaf.Interval = types.Interval{}
		}
	}
}

// Exclude sets every node in root matching hostname to excluded and returns
// the matched nodes, each still carrying whatever JobID it had.
func Exclude(root *Node, hostname string) []*Node {
	return setExcluded(root.MatchHostname(hostname))
}

func setExcluded(nodes []*Node) []*Node {
	for _, n := range nodes {
		n.State = types.NodeExcluded
	}
	return nodes
}

// Include sets every node in root matching hostname back to idle, but only
// if its current state is excluded, idle, or invalid; other states are
// skipped and returned separately so the caller can log a warning.
func Include(root *Node, hostname string) (included []*Node, skipped []*Node) {
	for _, n := range root.MatchHostname(hostname) {
		switch n.State {
		case types.NodeExcluded, types.NodeIdle, types.NodeInvalid:
			n.State = types.NodeIdle
			n.JobID = 0
			included = append(included, n)
		default:
			skipped = append(skipped, n)
		}
	}
	return included, skipped
}

// Utilization reports, for each kind present in the tree, the fraction of
// leaves of that kind currently allocated.
func Utilization(root *Node) map[string]float64 {
	out := map[string]float64{}
	if root == nil {
		return out
	}
	counts := map[Kind]int{}
	allocated := map[Kind]int{}
	for _, leaf := range root.Leaves() {
		counts[leaf.Kind]++
		if leaf.State == types.NodeAllocated {
			allocated[leaf.Kind]++
		}
	}
	for kind, total := range counts {
		if total == 0 {
			continue
		}
		out[string(kind)] = float64(allocated[kind]) / float64(total)
	}
	return out
}
