package review

import (
	gotypes "go/types"
	"regexp"
	"strings"
)

var (
	majorVersion = regexp.MustCompile(`^v[0-9]+$`)
	gopkgVersion = regexp.MustCompile(`\.v[0-9]+$`)
)

// stubImporter resolves every import to an empty, complete package. Type
// checking then needs neither GOROOT nor the module cache, and references to
// imported members surface as hard errors that typeIssues ignores.
type stubImporter struct {
	pkgs map[string]*gotypes.Package
}

func newStubImporter() *stubImporter {
	return &stubImporter{pkgs: map[string]*gotypes.Package{}}
}

func (im *stubImporter) Import(path string) (*gotypes.Package, error) {
	if path == "unsafe" {
		return gotypes.Unsafe, nil
	}
	if pkg, ok := im.pkgs[path]; ok {
		return pkg, nil
	}
	pkg := gotypes.NewPackage(path, packageName(path))
	pkg.MarkComplete()
	im.pkgs[path] = pkg
	return pkg, nil
}

// packageName guesses the declared name of the package at path using the
// usual conventions: a /vN major version element, a gopkg.in .vN suffix and
// go- or -go affixes are dropped.
func packageName(path string) string {
	elems := strings.Split(path, "/")
	name := elems[len(elems)-1]
	if len(elems) > 1 && majorVersion.MatchString(name) {
		name = elems[len(elems)-2]
	}
	name = gopkgVersion.ReplaceAllString(name, "")
	name = strings.TrimPrefix(name, "go-")
	name = strings.TrimSuffix(name, "-go")
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}
