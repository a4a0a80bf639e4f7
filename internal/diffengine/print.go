package diffengine

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

var (
	verbCreate = color.New(color.FgGreen).SprintFunc()
	verbDelete = color.New(color.FgRed).SprintFunc()
	verbPatch  = color.New(color.FgYellow).SprintFunc()
	lineAdd    = color.New(color.FgGreen, color.Bold).SprintFunc()
	lineDel    = color.New(color.FgRed, color.Bold).SprintFunc()
)

func verbLabel(kind ActionKind) string {
	switch kind {
	case ActionCreate:
		return verbCreate(kind.String())
	case ActionDelete, ActionRecreate:
		return verbDelete(kind.String())
	case ActionPatch:
		return verbPatch(kind.String())
	default:
		return kind.String()
	}
}

func yamlOrEmpty(obj *unstructured.Unstructured) (string, error) {
	if obj == nil {
		return "", nil
	}
	j, err := obj.MarshalJSON()
	if err != nil {
		return "", err
	}
	y, err := yaml.JSONToYAML(j)
	if err != nil {
		return "", err
	}
	return string(y), nil
}

// PrintAction writes a unified, line-oriented, colored diff of an action's
// have/want YAML forms to w, the same "one line per change" presentation
// a unix diff gives an operator deciding whether to confirm a push.
func PrintAction(w io.Writer, a Action) error {
	haveYAML, err := yamlOrEmpty(a.Have)
	if err != nil {
		return err
	}
	wantYAML, err := yamlOrEmpty(a.Want)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n• %s %s\n\n", verbLabel(a.Kind), a.Key)

	dmp := diffmatchpatch.New()
	wordsHave, wordsWant, lineArray := dmp.DiffLinesToChars(haveYAML, wantYAML)
	diffs := dmp.DiffMain(wordsHave, wordsWant, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			writePrefixedLines(w, "+", d.Text, lineAdd)
		case diffmatchpatch.DiffDelete:
			writePrefixedLines(w, "-", d.Text, lineDel)
		case diffmatchpatch.DiffEqual:
			writePrefixedLines(w, " ", d.Text, nil)
		}
	}
	return nil
}

func writePrefixedLines(w io.Writer, sign, text string, style func(a ...interface{}) string) {
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			if i > start {
				line := sign + text[start:i]
				if style != nil {
					line = style(line)
				}
				fmt.Fprintln(w, line)
			}
			start = i + 1
		}
	}
}

