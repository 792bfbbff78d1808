package training

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sgl-project/sft-agent/pkg/chattemplate"
	"github.com/sgl-project/sft-agent/pkg/constants"
)

const banner = "============================================"

// Modelfile renders an Ollama Modelfile for exportPath, relative to outputDir
// when the export lives inside it.
func Modelfile(outputDir, exportPath string) string {
	from := exportPath
	if rel, err := filepath.Rel(outputDir, exportPath); err == nil && !strings.HasPrefix(rel, "..") {
		from = "./" + filepath.ToSlash(rel)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n\n", from)
	fmt.Fprintf(&b, "TEMPLATE \"\"\"%s\"\"\"\n\n", chattemplate.OllamaTemplate)
	fmt.Fprintf(&b, "PARAMETER stop \"%s\"\n", chattemplate.IMStart)
	fmt.Fprintf(&b, "PARAMETER stop \"%s\"\n", chattemplate.IMEnd)
	return b.String()
}

// Summary is what a finished run reports to the operator.
type Summary struct {
	OutputDir   string
	ExportPath  string
	ArchivePath string
	Uploaded    []string
	ModelName   string
}

// PrintSummary writes the human-readable completion message.
func PrintSummary(w io.Writer, s Summary) {
	modelfile := filepath.Join(s.OutputDir, constants.ModelfileName)

	fmt.Fprintf(w, "\n%s\nTRAINING COMPLETE!\n%s\n\n", banner, banner)
	fmt.Fprintf(w, "Your fine-tuned model is saved at: %s\n", s.OutputDir)
	if s.ExportPath != "" {
		fmt.Fprintf(w, "Quantized export: %s\n", s.ExportPath)
	}
	if s.ArchivePath != "" {
		fmt.Fprintf(w, "Checkpoint archive: %s\n", s.ArchivePath)
	}
	for _, u := range s.Uploaded {
		fmt.Fprintf(w, "Uploaded: %s\n", u)
	}
	fmt.Fprintf(w, "\nTo use with Ollama:\n")
	fmt.Fprintf(w, "1. cd %s\n", s.OutputDir)
	fmt.Fprintf(w, "2. Run: ollama create %s -f %s\n", s.ModelName, constants.ModelfileName)
	fmt.Fprintf(w, "\nModelfile: %s\n", modelfile)
}

// PrintNoDatasets writes the diagnostic for a run without any training data.
func PrintNoDatasets(w io.Writer) {
	fmt.Fprintln(w, "ERROR: No datasets found in data/ folder!")
	fmt.Fprintln(w, "Please create JSONL files with training data.")
}
