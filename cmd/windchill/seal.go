package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/windchill/internal/ledger"
	"github.com/jmerrifield20/windchill/internal/seal"
	"github.com/jmerrifield20/windchill/pkg/client"
)

var (
	sealScene     string
	sealType      string
	sealTimestamp float64
	sealFile      string
	sealContent   string
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal one frame into the ledger",
	Long: `Seal commits to a frame payload and appends it to the ledger.

The payload is read from --file, from --content (structured JSON, hashed in
its RFC 8785 canonical form), or from stdin:

  windchill seal --scene stage-4/take-12 --file frame.bin
  windchill seal --scene stage-4/take-12 --type refusal --content '{"reason":"occluded"}'
  cat frame.bin | windchill seal --scene stage-4/take-12`,
	Args: cobra.NoArgs,
	RunE: runSeal,
}

func init() {
	sealCmd.Flags().StringVar(&sealScene, "scene", "", "scene id the frame belongs to (required)")
	sealCmd.Flags().StringVar(&sealType, "type", "standard", "entry type: standard or refusal")
	sealCmd.Flags().Float64Var(&sealTimestamp, "timestamp", 0, "capture time in seconds; 0 stamps at seal time")
	sealCmd.Flags().StringVar(&sealFile, "file", "", "read the payload from this file")
	sealCmd.Flags().StringVar(&sealContent, "content", "", "structured JSON content to canonicalise and seal")
}

func runSeal(cmd *cobra.Command, args []string) error {
	typ, err := ledger.ParseEntryType(sealType)
	if err != nil {
		return err
	}
	if sealFile != "" && sealContent != "" {
		return fmt.Errorf("use either --file or --content, not both")
	}

	var payload []byte
	if sealContent == "" {
		payload, err = readPayload(cmd.InOrStdin())
		if err != nil {
			return err
		}
	} else if !json.Valid([]byte(sealContent)) {
		return fmt.Errorf("--content is not valid JSON")
	}

	ctx := cmd.Context()

	if serverURL != "" {
		c, err := remote()
		if err != nil {
			return err
		}
		req := client.SealRequest{
			SceneID:   sealScene,
			EntryType: typ.String(),
			Timestamp: sealTimestamp,
			Payload:   payload,
		}
		if sealContent != "" {
			req.Content = json.RawMessage(sealContent)
		}
		entry, err := c.Seal(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(entry)
	}

	frame := seal.FrameCapture{SceneID: sealScene, Payload: payload, Type: typ, Timestamp: sealTimestamp}
	if sealContent != "" {
		frame, err = seal.NewStructuredFrame(sealScene, json.RawMessage(sealContent), typ, sealTimestamp)
		if err != nil {
			return err
		}
	}

	return withLedger(ctx, func(fl *ledger.FileLedger) error {
		entry, err := seal.NewSealer(fl, newLogger()).Seal(ctx, frame)
		if err != nil {
			return err
		}
		return printJSON(entry)
	})
}

func readPayload(stdin io.Reader) ([]byte, error) {
	if sealFile != "" {
		data, err := os.ReadFile(sealFile)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	return data, nil
}
