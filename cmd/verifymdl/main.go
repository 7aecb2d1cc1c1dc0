// Command verifymdl is a minimal demo CLI: it reads a CBOR-encoded
// DeviceResponse and a session transcript from disk, diagnoses the sole
// (or named) document against a PEM file of trust anchor certificates, and
// prints the resulting report as JSON.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/oshikawatkm/mdl/diagnostic"
	"github.com/oshikawatkm/mdl/mdoc"
	"github.com/oshikawatkm/mdl/pkg/pki"
)

func main() {
	responsePath := flag.String("response", "", "path to CBOR-encoded DeviceResponse")
	transcriptPath := flag.String("transcript", "", "path to CBOR-encoded SessionTranscriptBytes")
	rootsPath := flag.String("roots", "", "path to a PEM file of trust anchor certificates")
	docType := flag.String("doctype", "", "docType to diagnose, if the response carries more than one document")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *responsePath == "" || *transcriptPath == "" || *rootsPath == "" {
		logger.Error("missing required flag", "usage", "verifymdl -response FILE -transcript FILE -roots FILE")
		os.Exit(2)
	}

	encodedResponse, err := os.ReadFile(*responsePath)
	if err != nil {
		logger.Error("failed to read DeviceResponse", "error", err)
		os.Exit(1)
	}
	sessionTranscriptBytes, err := os.ReadFile(*transcriptPath)
	if err != nil {
		logger.Error("failed to read session transcript", "error", err)
		os.Exit(1)
	}
	roots, err := pki.LoadTrustAnchors(*rootsPath)
	if err != nil {
		logger.Error("failed to load trust anchors", "error", err)
		os.Exit(1)
	}

	report, err := diagnostic.Diagnose(encodedResponse, diagnostic.Options{
		Roots:                  roots,
		SessionTranscriptBytes: sessionTranscriptBytes,
		DocType:                mdoc.DocType(*docType),
	})
	if err != nil {
		logger.Error("diagnose failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("failed to encode report", "error", err)
		os.Exit(1)
	}

	if !report.Passed() {
		os.Exit(1)
	}
}
