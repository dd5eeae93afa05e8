package routing

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jaakkos/deskwork/internal/domain"
)

var (
	identPartRe = regexp.MustCompile(`[A-Z][a-z]*|[a-z]+`)

	pyDecoratorRe = regexp.MustCompile(`^\s*@([\w.]+)`)
	pyFuncRe      = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)\s*\(([^)]*)\)`)
	pyClassRe     = regexp.MustCompile(`^\s*class\s+(\w+)(?:\(([^)]*)\))?`)
	pyDocRe       = regexp.MustCompile(`^\s*(?:"""|''')(.*?)(?:"""|''')?\s*$`)

	jsFuncRe  = regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(([^)]*)\)`)
	jsArrowRe = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s*)?\(([^)]*)\)\s*=>`)
	jsExprRe  = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?function\b`)
	jsClassRe = regexp.MustCompile(`^\s*(?:export\s+)?class\s+(\w+)`)

	goFuncRe = regexp.MustCompile(`^func\s+(?:\(\w+\s+\*?\w+\)\s+)?(\w+)\s*\(([^)]*)\)`)
	goTypeRe = regexp.MustCompile(`^type\s+(\w+)\s+(struct|interface)`)

	javaMethodRe = regexp.MustCompile(`^\s*(?:public|private|protected)\s+(?:static\s+)?(?:final\s+)?[\w<>\[\], ]+\s+(\w+)\s*\(([^)]*)\)`)
	javaTypeRe   = regexp.MustCompile(`^\s*(?:public\s+)?(?:abstract\s+|final\s+)?(class|interface)\s+(\w+)`)
)

// endpoint/handler/property decorator names, matched case-insensitively
// against the final segment of a decorator expression.
var (
	endpointDecorators = map[string]bool{"route": true, "get": true, "post": true, "put": true, "delete": true, "patch": true}
	handlerDecorators  = map[string]bool{"command": true, "event": true, "handler": true}
)

// splitKeywords lowercases a symbol name and splits it on camel and snake
// boundaries. The full lowercased name is always included.
func splitKeywords(name string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(k string) {
		k = strings.ToLower(k)
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	add(name)
	for _, part := range strings.Split(name, "_") {
		for _, m := range identPartRe.FindAllString(part, -1) {
			add(m)
		}
	}
	return out
}

// extractRoutes dispatches on file extension. Unknown extensions yield no
// routes.
func extractRoutes(path string, src []byte) []domain.CodeRoute {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "go":
		return extractGo(path, src)
	case "py":
		return extractPython(path, src)
	case "js", "ts":
		return extractJS(path, src)
	case "java":
		return extractJava(path, src)
	}
	return nil
}

// extractGo parses the file with the real AST, falling back to line
// regexes when the file does not parse.
func extractGo(path string, src []byte) []domain.CodeRoute {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return extractGoRegex(path, src)
	}

	var routes []domain.CodeRoute
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			routeType := domain.RouteFunction
			if d.Recv != nil {
				routeType = domain.RouteMethod
			}
			if strings.Contains(strings.ToLower(name), "handler") {
				routeType = domain.RouteHandler
			}
			routes = append(routes, domain.CodeRoute{
				FilePath:   path,
				RouteType:  routeType,
				Name:       name,
				LineNumber: fset.Position(d.Pos()).Line,
				Signature:  name + "(" + strings.Join(paramNames(d.Type), ", ") + ")",
				Docstring:  firstCommentLine(d.Doc),
				Keywords:   splitKeywords(name),
			})
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				var routeType string
				switch ts.Type.(type) {
				case *ast.StructType:
					routeType = domain.RouteStruct
				case *ast.InterfaceType:
					routeType = domain.RouteInterface
				default:
					continue
				}
				doc := firstCommentLine(ts.Doc)
				if doc == "" {
					doc = firstCommentLine(d.Doc)
				}
				routes = append(routes, domain.CodeRoute{
					FilePath:   path,
					RouteType:  routeType,
					Name:       ts.Name.Name,
					LineNumber: fset.Position(ts.Pos()).Line,
					Signature:  "type " + ts.Name.Name + " " + routeType,
					Docstring:  doc,
					Keywords:   splitKeywords(ts.Name.Name),
				})
			}
		}
	}
	return routes
}

func paramNames(ft *ast.FuncType) []string {
	if ft == nil || ft.Params == nil {
		return nil
	}
	var names []string
	for _, field := range ft.Params.List {
		for _, n := range field.Names {
			names = append(names, n.Name)
		}
	}
	return names
}

func firstCommentLine(cg *ast.CommentGroup) string {
	if cg == nil {
		return ""
	}
	text := strings.TrimSpace(cg.Text())
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return text
}

func extractGoRegex(path string, src []byte) []domain.CodeRoute {
	var routes []domain.CodeRoute
	for i, line := range strings.Split(string(src), "\n") {
		if m := goFuncRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			routeType := domain.RouteFunction
			if strings.Contains(strings.ToLower(name), "handler") || strings.Contains(strings.ToLower(line), "handler") {
				routeType = domain.RouteHandler
			}
			routes = append(routes, domain.CodeRoute{
				FilePath:   path,
				RouteType:  routeType,
				Name:       name,
				LineNumber: i + 1,
				Signature:  name + "(" + cleanArgs(m[2]) + ")",
				Keywords:   splitKeywords(name),
			})
			continue
		}
		if m := goTypeRe.FindStringSubmatch(line); m != nil {
			routes = append(routes, domain.CodeRoute{
				FilePath:   path,
				RouteType:  m[2],
				Name:       m[1],
				LineNumber: i + 1,
				Signature:  "type " + m[1] + " " + m[2],
				Keywords:   splitKeywords(m[1]),
			})
		}
	}
	return routes
}

// extractPython scans line by line, carrying pending decorator names into
// the next def or class. Docstrings are taken from the first line after a
// def when it opens a triple-quoted string.
func extractPython(path string, src []byte) []domain.CodeRoute {
	lines := strings.Split(string(src), "\n")
	var pending []string
	var routes []domain.CodeRoute

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := pyDecoratorRe.FindStringSubmatch(line); m != nil {
			segs := strings.Split(m[1], ".")
			pending = append(pending, segs[len(segs)-1])
			continue
		}
		if m := pyFuncRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			routeType := domain.RouteFunction
			keywords := splitKeywords(name)
			for _, dec := range pending {
				lower := strings.ToLower(dec)
				switch {
				case endpointDecorators[lower]:
					routeType = domain.RouteEndpoint
					keywords = appendUnique(keywords, "api", lower)
				case handlerDecorators[lower]:
					routeType = domain.RouteHandler
					keywords = appendUnique(keywords, lower)
				case lower == "property":
					routeType = domain.RouteProperty
				}
			}
			routes = append(routes, domain.CodeRoute{
				FilePath:   path,
				RouteType:  routeType,
				Name:       name,
				LineNumber: i + 1,
				Signature:  name + "(" + cleanArgs(m[2]) + ")",
				Docstring:  pythonDocstring(lines, i+1),
				Keywords:   keywords,
			})
			pending = nil
			continue
		}
		if m := pyClassRe.FindStringSubmatch(line); m != nil {
			keywords := splitKeywords(m[1])
			for _, base := range strings.Split(m[2], ",") {
				if base = strings.TrimSpace(base); base != "" {
					keywords = appendUnique(keywords, strings.ToLower(base))
				}
			}
			routes = append(routes, domain.CodeRoute{
				FilePath:   path,
				RouteType:  domain.RouteClass,
				Name:       m[1],
				LineNumber: i + 1,
				Signature:  "class " + m[1],
				Docstring:  pythonDocstring(lines, i+1),
				Keywords:   keywords,
			})
			pending = nil
			continue
		}
		if strings.TrimSpace(line) != "" {
			pending = nil
		}
	}
	return routes
}

func pythonDocstring(lines []string, start int) string {
	for i := start; i < len(lines) && i < start+2; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if m := pyDocRe.FindStringSubmatch(trimmed); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}
	return ""
}

func extractJS(path string, src []byte) []domain.CodeRoute {
	var routes []domain.CodeRoute
	add := func(routeType, name, args string, line int) {
		sig := name + "(" + cleanArgs(args) + ")"
		if routeType == domain.RouteClass {
			sig = "class " + name
		}
		routes = append(routes, domain.CodeRoute{
			FilePath:   path,
			RouteType:  routeType,
			Name:       name,
			LineNumber: line,
			Signature:  sig,
			Keywords:   splitKeywords(name),
		})
	}
	for i, line := range strings.Split(string(src), "\n") {
		if m := jsFuncRe.FindStringSubmatch(line); m != nil {
			add(domain.RouteFunction, m[1], m[2], i+1)
			continue
		}
		if m := jsArrowRe.FindStringSubmatch(line); m != nil {
			add(domain.RouteFunction, m[1], m[2], i+1)
			continue
		}
		if m := jsExprRe.FindStringSubmatch(line); m != nil {
			add(domain.RouteFunction, m[1], "", i+1)
			continue
		}
		if m := jsClassRe.FindStringSubmatch(line); m != nil {
			add(domain.RouteClass, m[1], "", i+1)
		}
	}
	return routes
}

func extractJava(path string, src []byte) []domain.CodeRoute {
	var routes []domain.CodeRoute
	for i, line := range strings.Split(string(src), "\n") {
		if m := javaTypeRe.FindStringSubmatch(line); m != nil {
			routeType := domain.RouteClass
			if m[1] == "interface" {
				routeType = domain.RouteInterface
			}
			routes = append(routes, domain.CodeRoute{
				FilePath:   path,
				RouteType:  routeType,
				Name:       m[2],
				LineNumber: i + 1,
				Signature:  m[1] + " " + m[2],
				Keywords:   splitKeywords(m[2]),
			})
			continue
		}
		if m := javaMethodRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			routes = append(routes, domain.CodeRoute{
				FilePath:   path,
				RouteType:  domain.RouteMethod,
				Name:       name,
				LineNumber: i + 1,
				Signature:  name + "(" + javaArgs(m[2]) + ")",
				Keywords:   splitKeywords(name),
			})
		}
	}
	return routes
}

// cleanArgs reduces a raw parameter list to comma-separated bare names,
// dropping annotations, types, and defaults. Parameter names lead in the
// languages this serves (Go, Python, JS/TS).
func cleanArgs(raw string) string {
	return joinArgs(raw, false)
}

// javaArgs is cleanArgs for Java, where the name trails the type.
func javaArgs(raw string) string {
	return joinArgs(raw, true)
}

func joinArgs(raw string, nameLast bool) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var names []string
	for _, arg := range strings.Split(raw, ",") {
		arg = strings.TrimSpace(arg)
		if i := strings.IndexAny(arg, ":="); i >= 0 {
			arg = strings.TrimSpace(arg[:i])
		}
		if fields := strings.Fields(arg); len(fields) > 1 {
			if nameLast {
				arg = fields[len(fields)-1]
			} else {
				arg = fields[0]
			}
		}
		if arg != "" {
			names = append(names, arg)
		}
	}
	return strings.Join(names, ", ")
}

func appendUnique(keywords []string, extra ...string) []string {
	for _, k := range extra {
		found := false
		for _, existing := range keywords {
			if existing == k {
				found = true
				break
			}
		}
		if !found {
			keywords = append(keywords, k)
		}
	}
	return keywords
}
