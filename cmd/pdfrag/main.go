// Command pdfrag indexes a folder of PDFs and answers questions with
// cited passages.
package main

import (
	"os"

	"github.com/Aman-CERP/pdfrag/cmd/pdfrag/cmd"
)

func main() {
	if cmd.Execute() != nil {
		os.Exit(1)
	}
}
