// Package resolver implements the path parser/resolver of SPEC_FULL.md
// §4.9: it walks a textual virtual path, pushing a avfscore.VEntry mount
// layer at each "#" handler invocation, following symlinks with loop
// protection, and reconstructing canonical paths via GeneratePath.
//
// The per-segment state machine is grounded on the teacher's
// internal/fuse/dir.go, the closest analogue to "a method dispatch layer
// sitting in front of a VFS-like backend with per-call locking" named in
// SPEC_FULL.md §4.9/4.10.
package resolver

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/layerfs/avfs/internal/avfscore"
)

// DefaultSymlinkBudget is the initial hop budget of spec §4.9 ("initial
// 10").
const DefaultSymlinkBudget = 10

// MaxSegments is the infinite-loop tripwire of spec §4.9 step 5.
const MaxSegments = 1000

// LocalOpener opens a plain native path as the bottom-of-stack ventry (the
// "local" layer every resolve ultimately rests on).
type LocalOpener func(path string) (*avfscore.VEntry, error)

// Resolver walks virtual paths against a Registry, starting every chain
// from a LocalOpener-provided bottom layer.
type Resolver struct {
	registry *avfscore.Registry
	local    LocalOpener
}

// New creates a Resolver.
func New(registry *avfscore.Registry, local LocalOpener) *Resolver {
	return &Resolver{registry: registry, local: local}
}

// parseState is the resolver's mutable per-call cursor, per spec §4.9.
type parseState struct {
	ve          *avfscore.VEntry
	prevseg     string // last plain segment consumed, for extension matching
	hopsLeft    int
	segCount    int
}

// Resolve walks path to its final component and returns the resulting
// ventry. This is the equivalent of the original's resolve-last-component
// path.
func (r *Resolver) Resolve(path string) (*avfscore.VEntry, error) {
	return r.resolve(path, DefaultSymlinkBudget)
}

func (r *Resolver) resolve(vpath string, hopsLeft int) (*avfscore.VEntry, error) {
	return r.resolveFollow(vpath, hopsLeft, true)
}

func (r *Resolver) resolveFollow(vpath string, hopsLeft int, followLast bool) (*avfscore.VEntry, error) {
	segments, bottomPath := splitTop(vpath)

	bottom, err := r.local(bottomPath)
	if err != nil {
		return nil, fmt.Errorf("resolver: open local base %q: %w", bottomPath, err)
	}

	st := &parseState{ve: bottom, prevseg: path.Base(bottomPath), hopsLeft: hopsLeft}
	if err := r.walk(st, segments, vpath, followLast); err != nil {
		return nil, err
	}
	return st.ve, nil
}

// walk steps through segments in order. followLast controls whether the
// very last segment's own symlink (if any) is chased; every other segment
// always follows, since intermediate path components must name real
// directories regardless of the caller's lstat-vs-stat intent.
func (r *Resolver) walk(st *parseState, segments []segment, vpath string, followLast bool) error {
	for i, seg := range segments {
		st.segCount++
		if st.segCount > MaxSegments {
			return avfscore.NewError("resolve", vpath, avfscore.ErrInvalidArgument, fmt.Errorf("resolver: segment depth exceeds %d (possible infinite loop)", MaxSegments))
		}
		follow := followLast || i < len(segments)-1
		if err := r.stepSegment(st, seg, follow); err != nil {
			return err
		}
	}
	return nil
}

// ResolveNoFollow resolves path like Resolve, except a symlink named by the
// final path component is returned as-is rather than chased — the shape
// ReadLink and an Access call carrying ONofollow need.
func (r *Resolver) ResolveNoFollow(path string) (*avfscore.VEntry, error) {
	return r.resolveFollow(path, DefaultSymlinkBudget, false)
}

// ResolveParent resolves path up to, but not including, its final plain
// path component, returning the parent ventry and that final component.
// It is used by the create-type operations (Mkdir/Mknod/Symlink/Rename's
// and Link's destination side) whose target does not exist yet and so
// cannot be resolved directly. A path whose final segment is itself a
// handler invocation has no meaningful "parent plus name" shape and is
// rejected.
func (r *Resolver) ResolveParent(vpath string) (*avfscore.VEntry, string, error) {
	segments, bottomPath := splitTop(vpath)

	if len(segments) == 0 {
		dir := path.Dir(bottomPath)
		base := path.Base(bottomPath)
		parent, err := r.local(dir)
		if err != nil {
			return nil, "", fmt.Errorf("resolver: open local base %q: %w", dir, err)
		}
		return parent, base, nil
	}

	last := segments[len(segments)-1]
	if last.isHandler {
		return nil, "", avfscore.NewError("resolve", vpath, avfscore.ErrInvalidArgument, fmt.Errorf("resolver: path %q cannot be created: final component is a handler invocation", vpath))
	}

	bottom, err := r.local(bottomPath)
	if err != nil {
		return nil, "", fmt.Errorf("resolver: open local base %q: %w", bottomPath, err)
	}

	st := &parseState{ve: bottom, prevseg: path.Base(bottomPath), hopsLeft: DefaultSymlinkBudget}
	if err := r.walk(st, segments[:len(segments)-1], vpath, true); err != nil {
		return nil, "", err
	}
	return st.ve, last.plain, nil
}

// segment is one parsed path component: either a plain name or a handler
// invocation ("#", or "#name[opts][:param]").
type segment struct {
	isHandler bool
	auto      bool   // "#" alone
	name      string // handler name, for a named invocation
	opts      string // the "[opts]" portion
	param     string // the ":param" portion, if present
	plain     string // the plain path component, for a non-handler segment
}

// splitTop splits path into its leading native (bottom-of-stack) path and
// the sequence of segments above it. A reserved "#" character anywhere in
// a component, not doubled, starts the first handler invocation; everything
// before that point is the native base path.
func splitTop(path string) ([]segment, string) {
	idx := findUnescapedHash(path)
	if idx < 0 {
		return nil, path
	}
	base := path[:idx]
	rest := path[idx:]
	return parseSegments(rest), base
}

// findUnescapedHash returns the index of the first "#" in s that is not
// part of a doubled "##" escape, or -1.
func findUnescapedHash(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] != '#' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '#' {
			i++ // skip the escaped pair
			continue
		}
		return i
	}
	return -1
}

// parseSegments splits the "#..." tail of a path into segments: each
// handler invocation consumes up to the next "/", and each subsequent
// "/"-delimited component is a plain segment (itself possibly containing a
// further handler invocation).
func parseSegments(rest string) []segment {
	var out []segment
	for len(rest) > 0 {
		if rest[0] == '#' {
			end := len(rest)
			for i := 1; i < len(rest); i++ {
				if rest[i] == '/' {
					end = i
					break
				}
			}
			out = append(out, parseHandlerInvocation(rest[1:end]))
			rest = strings.TrimPrefix(rest[end:], "/")
			continue
		}

		end := len(rest)
		if i := findUnescapedHash(rest); i >= 0 {
			end = i
		} else if i := strings.IndexByte(rest, '/'); i >= 0 {
			end = i
		}

		comp := strings.ReplaceAll(rest[:end], "##", "#")
		if comp != "" {
			out = append(out, segment{plain: comp})
		}
		rest = rest[end:]
		rest = strings.TrimPrefix(rest, "/")
	}
	return out
}

func parseHandlerInvocation(s string) segment {
	if s == "" {
		return segment{isHandler: true, auto: true}
	}
	name := s
	param := ""
	if i := strings.IndexByte(s, ':'); i >= 0 {
		name = s[:i]
		param = s[i+1:]
	}
	// opts are any non-alphanumeric trailer glued to the handler name,
	// e.g. "extfs(gzip)"; kept simple since format-specific option parsing
	// belongs to the handler itself.
	nameEnd := 0
	for nameEnd < len(name) && isNameChar(name[nameEnd]) {
		nameEnd++
	}
	return segment{isHandler: true, name: name[:nameEnd], opts: name[nameEnd:], param: param}
}

func isNameChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// stepSegment advances st by one parsed segment, per spec §4.9 steps 2-4.
// follow controls whether a symlink produced by this particular segment is
// chased; callers resolving a full path always pass true except for the
// final segment of a lstat-style resolve (ReadLink, Access with
// ONofollow), which must see the link itself.
func (r *Resolver) stepSegment(st *parseState, seg segment, follow bool) error {
	if seg.isHandler {
		return r.pushHandler(st, seg, follow)
	}
	return r.lookupPlain(st, seg.plain, follow)
}

func (r *Resolver) pushHandler(st *parseState, seg segment, follow bool) error {
	var h avfscore.Handler
	var opts string

	if seg.auto {
		matched, suffix, ok := r.registry.MatchExtension(st.prevseg)
		if !ok {
			return avfscore.NewError("resolve", st.prevseg, avfscore.ErrNotFound, fmt.Errorf("resolver: no auto handler matches suffix of %q", st.prevseg))
		}
		h = matched
		_ = suffix // rewritten-suffix chaining is the handler's own Lookup concern
	} else {
		matched, ok := r.registry.ByName(seg.name)
		if !ok {
			return avfscore.NewError("resolve", seg.name, avfscore.ErrNotFound, fmt.Errorf("resolver: unknown handler %q", seg.name))
		}
		h = matched
		opts = seg.opts
	}

	if flagged, ok := h.(interface{ OnlyRoot() bool }); ok && flagged.OnlyRoot() {
		if st.ve.Parent != nil {
			return avfscore.NewError("resolve", seg.name, avfscore.ErrPermission, fmt.Errorf("resolver: handler %q only mounts at the filesystem root", h.Name()))
		}
	}

	base := st.ve
	basePath, err := GeneratePath(base)
	if err != nil {
		return fmt.Errorf("resolver: generate base path: %w", err)
	}

	next, err := h.Lookup(&avfscore.VEntry{Handler: h, Parent: base, Opts: opts, BasePath: basePath}, seg.param)
	if err != nil {
		return err
	}
	next.Parent = base
	if next.Opts == "" {
		next.Opts = opts
	}
	if next.BasePath == "" {
		next.BasePath = basePath
	}
	st.ve = next

	if !follow {
		return nil
	}
	return r.followSymlink(st)
}

func (r *Resolver) lookupPlain(st *parseState, name string, follow bool) error {
	next, err := st.ve.Handler.Lookup(st.ve, name)
	if err != nil {
		return err
	}
	next.Parent = st.ve.Parent
	if next.Opts == "" {
		next.Opts = st.ve.Opts
	}
	if next.BasePath == "" {
		next.BasePath = st.ve.BasePath
	}
	st.ve = next
	st.prevseg = name

	if !follow {
		return nil
	}
	return r.followSymlink(st)
}

// followSymlink resolves st.ve if it names a symlink, per spec §4.9 step 3:
// relative targets resolve against the current layer, absolute targets
// resolve against a fresh bottom-of-stack layer.
func (r *Resolver) followSymlink(st *parseState) error {
	target, err := st.ve.Handler.ReadLink(st.ve)
	if err != nil {
		if errors.Is(err, avfscore.ErrInvalidArgument) {
			// Not a symlink (or the handler doesn't support readlink, which
			// answers the same way via BaseHandler): nothing to follow.
			return nil
		}
		return err
	}

	if st.hopsLeft <= 0 {
		return avfscore.NewError("resolve", target, avfscore.ErrLoop, fmt.Errorf("resolver: symlink hop budget exhausted"))
	}
	st.hopsLeft--

	if !strings.HasPrefix(target, "/") {
		linkPath, err := GeneratePath(st.ve)
		if err != nil {
			return err
		}
		target = path.Join(path.Dir(linkPath), target)
	}

	resolved, err := r.resolve(target, st.hopsLeft)
	if err != nil {
		return err
	}
	st.ve = resolved
	return nil
}

// GeneratePath inverts resolution: it recurses to the bottom layer and
// appends each handler's GetPath with "#" escaping, producing the
// canonical string for ve (spec §4.9's generate_path).
func GeneratePath(ve *avfscore.VEntry) (string, error) {
	if ve.Parent == nil {
		return ve.Handler.GetPath(ve)
	}

	base, err := GeneratePath(ve.Parent)
	if err != nil {
		return "", err
	}

	seg, err := ve.Handler.GetPath(ve)
	if err != nil {
		return "", err
	}

	escaped := strings.ReplaceAll(seg, "#", "##")
	invocation := "#" + ve.Handler.Name()
	if ve.Opts != "" {
		invocation += ve.Opts
	}

	if escaped == "" || escaped == "/" {
		return base + invocation, nil
	}
	return base + invocation + ":" + escaped, nil
}
