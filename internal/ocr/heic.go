package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ConvertHEIC converts a HEIC/HEIF photo to PNG at out.
// converter: "heif-convert" | "magick" | "sips"
func ConvertHEIC(ctx context.Context, r Runner, converter, in, out string) error {
	var errb []byte
	var err error
	switch converter {
	case "heif-convert":
		_, errb, err = r.Run(ctx, "heif-convert", in, out)
	case "magick":
		_, errb, err = r.Run(ctx, "magick", in, out)
	case "sips":
		_, errb, err = r.Run(ctx, "sips", "-s", "format", "png", in, "--out", out)
	default:
		return fmt.Errorf("HEIC not supported: set HEIC_CONVERTER to one of: heif-convert | magick | sips")
	}
	if err != nil {
		if len(errb) > 0 && !errors.As(err, new(*ToolError)) {
			return fmt.Errorf("%s convert failed: %w: %s", converter, err, tail(string(errb), 512))
		}
		return fmt.Errorf("%s convert failed: %w", converter, err)
	}
	if _, statErr := os.Stat(out); statErr != nil {
		return fmt.Errorf("HEIC conversion produced no output: %w", statErr)
	}
	return nil
}
