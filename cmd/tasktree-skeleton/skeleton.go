package main

import (
	"bytes"
	"context"
	"path"
	"strings"
	"text/template"
	"unicode"

	"github.com/openfroyo/tasktree/pkg/orchestrator"
)

var skeletonTemplate = template.Must(template.New("skeleton").Parse(`package {{.Package}}

import "testing"

// {{.Func}} covers: {{.Task}}
{{- if .Description}}
//
// {{.Description}}
{{- end}}
{{- range .References}}
// Refines {{.}}.
{{- end}}
func {{.Func}}(t *testing.T) {
	t.Fatal("not implemented: {{.Task}}")
}
`))

type skeletonData struct {
	Package     string
	Func        string
	Task        string
	Description string
	References  []string
}

// render builds the failing test skeleton for a request.
func render(ctx context.Context, req *orchestrator.GenerationRequest) (orchestrator.TestSpec, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.TestSpec{}, err
	}

	pkg := "acceptance"
	if req.Module != nil {
		pkg = identifier(req.Module.ID, false)
	}
	data := skeletonData{
		Package:     pkg,
		Func:        "Test" + identifier(req.Task.Name, true),
		Task:        oneLine(req.Task.Name),
		Description: oneLine(req.Task.Description),
	}
	for _, ref := range req.ReferenceTests {
		data.References = append(data.References, ref.Name)
	}

	var buf bytes.Buffer
	if err := skeletonTemplate.Execute(&buf, data); err != nil {
		return orchestrator.TestSpec{}, err
	}

	file := strings.ToLower(identifier(req.Task.Name, false)) + "_test.go"
	return orchestrator.TestSpec{
		Name:   data.Func,
		Path:   path.Join(pkg, file),
		Source: buf.String(),
	}, nil
}

// identifier turns free text into a Go identifier: CamelCase when exported,
// lower snake_case otherwise.
func identifier(s string, exported bool) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return "task"
	}

	var b strings.Builder
	for i, w := range words {
		if exported {
			rs := []rune(strings.ToLower(w))
			rs[0] = unicode.ToUpper(rs[0])
			b.WriteString(string(rs))
			continue
		}
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(strings.ToLower(w))
	}
	out := b.String()
	if unicode.IsDigit([]rune(out)[0]) {
		out = "x" + out
	}
	return out
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.NewReplacer(`"`, `'`, `\`, `/`).Replace(s)
}
