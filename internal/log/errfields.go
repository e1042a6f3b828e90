package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

type stacker interface{ StackPCs() []uintptr }

type pcer interface{ PC() uintptr }

// plumbing reports frames that belong to the runtime, slog, this package or
// xerrors. They are trimmed from rendered stacks and error links.
func plumbing(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

func renderStack(pcs []uintptr) string {
	var b strings.Builder
	frames := runtime.CallersFrames(pcs)
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") && started {
			break
		}
		if !started && !plumbing(fr.Function) {
			started = true
		}
		if started && fr.Function != "" {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// errorChain lists each distinct message along the Unwrap chain, plus the
// members of a top-level errors.Join.
func errorChain(err error) []string {
	var out []string
	last := ""
	add := func(s string) {
		if s != last {
			out = append(out, s)
			last = s
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

// errorLinks describes up to max links of the chain with the source
// position recorded by xerrors, when there is one.
func errorLinks(err error, max int) []map[string]any {
	var links []map[string]any
	for depth, e := 0, err; e != nil && depth < max; depth, e = depth+1, errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fr, ok := linkFrame(e)
		if ok {
			link["func"], link["file"], link["line"] = fr.Function, fr.File, fr.Line
		}
		if ok || depth == 0 {
			links = append(links, link)
		}
	}
	return links
}

func linkFrame(e error) (runtime.Frame, bool) {
	if p, ok := e.(pcer); ok && p.PC() != 0 {
		fr, _ := runtime.CallersFrames([]uintptr{p.PC()}).Next()
		return fr, true
	}
	if s, ok := e.(stacker); ok {
		frames := runtime.CallersFrames(s.StackPCs())
		for {
			fr, more := frames.Next()
			if fr.Function != "" && !plumbing(fr.Function) {
				return fr, true
			}
			if !more {
				break
			}
		}
	}
	return runtime.Frame{}, false
}

// errorTypes returns the first non-wrapper type in the chain and the type of
// the innermost error.
func errorTypes(err error) (surface, root string) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		root = fmt.Sprintf("%T", e)
		if surface != "" {
			continue
		}
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if strings.Contains(t.PkgPath(), "/internal/xerrors") || (t.PkgPath() == "fmt" && strings.HasPrefix(t.Name(), "wrapError")) {
			continue
		}
		surface = fmt.Sprintf("%T", e)
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, root
}
