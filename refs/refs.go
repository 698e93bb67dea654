// Package refs resolves an open request's ref options (explicit snapshot,
// tag, or branch) into a concrete snapshot id, and parses the ref.json
// documents a repository's refs/ tree holds.
package refs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantarax/icechunk/objectid"
	"github.com/quantarax/icechunk/urlutil"
)

// DefaultBranch is used when Options carries neither Snapshot nor Tag nor
// an explicit Ref.
const DefaultBranch = "main"

// FormatError reports a malformed ref: an unrecognised JSON shape, an
// extra property, or an invalid snapshot id.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return fmt.Sprintf("ref: %v", e.Err) }
func (e *FormatError) Unwrap() error { return e.Err }

// Options selects which ref to resolve. At most one of Snapshot, Tag, Ref
// should be set; Snapshot takes priority, then Tag, then Ref (defaulting
// to DefaultBranch).
type Options struct {
	Snapshot string // explicit snapshot id, validated but not fetched
	Tag      string
	Ref      string // branch name

	// OnFetch, if set, is called once after Resolve's ref.json GET and JSON
	// parse complete, with the combined latency and outcome. It is not
	// called when Snapshot is set, since Resolve never fetches in that case.
	OnFetch func(duration time.Duration, err error)
}

// Fetcher is the minimal transport capability the resolver needs: a full
// object GET. It is satisfied by transport.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Resolve picks exactly one ref per Options and returns the resolved
// snapshot id.
func Resolve(ctx context.Context, f Fetcher, root string, opts Options) (string, error) {
	if opts.Snapshot != "" {
		if !objectid.IsValidSnapshotID(opts.Snapshot) {
			return "", &FormatError{Err: fmt.Errorf("invalid snapshot id %q", opts.Snapshot)}
		}
		return opts.Snapshot, nil
	}

	var refURL string
	switch {
	case opts.Tag != "":
		refURL = urlutil.TagRefURL(root, opts.Tag)
	default:
		branch := opts.Ref
		if branch == "" {
			branch = DefaultBranch
		}
		refURL = urlutil.BranchRefURL(root, branch)
	}

	start := time.Now()
	body, err := f.Fetch(ctx, refURL)
	if err != nil {
		if opts.OnFetch != nil {
			opts.OnFetch(time.Since(start), err)
		}
		return "", err
	}
	id, err := ParseRefJSON(body)
	if opts.OnFetch != nil {
		opts.OnFetch(time.Since(start), err)
	}
	return id, err
}

// ParseRefJSON validates that body is a JSON object with exactly one
// property, "snapshot", whose value is a valid snapshot id.
func ParseRefJSON(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", &FormatError{Err: fmt.Errorf("malformed ref JSON: %w", err)}
	}
	if len(raw) != 1 {
		return "", &FormatError{Err: fmt.Errorf("ref JSON has %d properties, want 1", len(raw))}
	}
	value, ok := raw["snapshot"]
	if !ok {
		return "", &FormatError{Err: fmt.Errorf("ref JSON missing \"snapshot\" property")}
	}
	id, ok := value.(string)
	if !ok {
		return "", &FormatError{Err: fmt.Errorf("ref JSON \"snapshot\" property is not a string")}
	}
	if !objectid.IsValidSnapshotID(id) {
		return "", &FormatError{Err: fmt.Errorf("invalid snapshot id %q", id)}
	}
	return id, nil
}
