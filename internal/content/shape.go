package content

import (
	"fmt"

	"github.com/RichardoC/talknow/internal/models"
)

// Shaper turns a raw model answer into the payload for a content type.
type Shaper interface {
	Shape(t models.ContentType, answer string) models.Payload
}

// Mode names a shaper implementation in configuration.
type Mode string

const (
	ModeTemplate   Mode = "template"
	ModeStructured Mode = "structured"
)

// NewShaper returns the shaper for mode.
func NewShaper(mode Mode) (Shaper, error) {
	switch mode {
	case ModeTemplate, "":
		return TemplateShaper{}, nil
	case ModeStructured:
		return StructuredShaper{}, nil
	default:
		return nil, fmt.Errorf("unknown shaper mode %q", mode)
	}
}

const tablePreviewLen = 50

// TableHeaders are the column names of every table payload.
var TableHeaders = []string{"Item", "Description", "Value"}

const codeTemplate = `// AI Generated Code Response
%s

// Example implementation:
function ExampleComponent() {
  const [state, setState] = useState('');

  return (
    <div>
      <p>Generated response: {state}</p>
    </div>
  );
}`

// TemplateShaper wraps the answer in fixed templates. It never looks inside
// the answer.
type TemplateShaper struct{}

func (TemplateShaper) Shape(t models.ContentType, answer string) models.Payload {
	switch t {
	case models.ContentCode:
		return models.Code(fmt.Sprintf(codeTemplate, answer))
	case models.ContentTable:
		return &models.Table{
			Headers: append([]string(nil), TableHeaders...),
			Rows: [][]string{
				{"AI Response", preview(answer, tablePreviewLen) + "...", "Generated"},
				{"Content Type", "Table Data", "Structured"},
				{"Source", "AI Model", "Dynamic"},
			},
		}
	case models.ContentSlides:
		return models.Slides{{
			Title:   "AI Response",
			Content: "# Generated Content\n\n" + answer,
		}}
	default:
		return models.Text(answer)
	}
}

// Shape classifies message and shapes answer with the template shaper.
func Shape(message, answer string) models.Payload {
	return TemplateShaper{}.Shape(Classify(message), answer)
}

// preview returns the first n characters of s.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
