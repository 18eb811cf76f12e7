package restore

import (
	"sort"

	"github.com/restoregoose/idevicerestore/pkg/tss"
)

// Selector picks a ticket entry either by its top-level component name or by
// the filesystem path announced inside some entry's Path field. Unifying the
// two lookups behind one selector eliminates the source's duplicated
// by-name/by-path code paths (§9).
type Selector struct {
	byPath bool
	value  string
}

// ByName selects the top-level ticket entry with the given component name.
func ByName(name string) Selector { return Selector{value: name} }

// ByPath selects the first top-level entry whose inner Path equals path.
func ByPath(path string) Selector { return Selector{byPath: true, value: path} }

// Resolve looks up a ticket entry, returning the component name, its
// announced path, and its signature blob. Selecting by name fetches the
// entry directly; selecting by path scans top-level entries in sorted-name
// order and returns the first match, so repeated lookups against the same
// ticket are idempotent regardless of Go's randomized map order (§8
// invariant 2).
func Resolve(ticket tss.Ticket, sel Selector) (name, path string, blob []byte, err error) {
	if !sel.byPath {
		entry, ok := ticket[sel.value]
		if !ok {
			return "", "", nil, &TicketEntryMissingError{Name: sel.value}
		}
		path, blob, err := decodeEntry(sel.value, entry)
		if err != nil {
			return "", "", nil, err
		}
		return sel.value, path, blob, nil
	}

	names := make([]string, 0, len(ticket))
	for entryName := range ticket {
		names = append(names, entryName)
	}
	sort.Strings(names)

	for _, entryName := range names {
		p, b, derr := decodeEntry(entryName, ticket[entryName])
		if derr != nil {
			continue // malformed entries can't match a Path query; keep scanning
		}
		if p == sel.value {
			return entryName, p, b, nil
		}
	}
	return "", "", nil, &TicketPathMissingError{Path: sel.value}
}

// decodeEntry type-checks and extracts the Path/Blob pair from a single
// top-level ticket entry, handling the OS entry's nested Info.Path shape.
func decodeEntry(name string, entry any) (path string, blob []byte, err error) {
	dict, ok := entry.(map[string]any)
	if !ok {
		return "", nil, &TicketEntryMalformedError{Name: name, Reason: "entry is not a dict"}
	}

	if p, ok := dict["Path"].(string); ok {
		path = p
	} else if info, ok := dict["Info"].(map[string]any); ok {
		if p, ok := info["Path"].(string); ok {
			path = p
		}
	}
	if path == "" {
		return "", nil, &TicketEntryMalformedError{Name: name, Reason: "missing Path"}
	}

	if b, ok := dict["Blob"].([]byte); ok {
		blob = b
	} else if name != "OS" {
		// Every signable component other than OS must carry its own
		// signature blob (§4.5); a non-OS entry with no Blob is a malformed
		// signing response, not a legitimately blob-less one.
		return "", nil, &TicketEntryMalformedError{Name: name, Reason: "missing Blob"}
	}
	// OS carries no Blob of its own: the filesystem image isn't re-signed
	// the way bootchain components are.
	return path, blob, nil
}
