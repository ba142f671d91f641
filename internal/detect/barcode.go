package detect

import (
	"context"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/roi"
)

// Decoder is an opaque barcode reader fed JPEG bytes.
type Decoder interface {
	Decode(jpegData []byte) ([]string, error)
}

// ZXingDecoder reads 1D symbologies and QR codes.
type ZXingDecoder struct{}

func (ZXingDecoder) Decode(jpegData []byte) ([]string, error) {
	img, err := imaging.DecodeJPEG(jpegData)
	if err != nil {
		return nil, err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("prepare bitmap: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	readers := []gozxing.Reader{
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
		oned.NewITFReader(),
		oned.NewMultiFormatUPCEANReader(hints),
		qrcode.NewQRCodeReader(),
	}

	var values []string
	for _, reader := range readers {
		result, err := reader.Decode(bmp, hints)
		if err != nil {
			continue
		}
		if text := result.GetText(); text != "" {
			values = append(values, text)
		}
	}
	return values, nil
}

// BarcodeDetector crops the region, re-encodes it as the capture pipeline
// would, and hands the bytes to the decoder. No decoded value means failed.
type BarcodeDetector struct {
	dec Decoder
}

func NewBarcodeDetector(dec Decoder) *BarcodeDetector {
	return &BarcodeDetector{dec: dec}
}

func (d *BarcodeDetector) Type() roi.Type { return roi.TypeBarcode }

func (d *BarcodeDetector) Detect(ctx context.Context, frame image.Image, r roi.ROI, env Env) Result {
	crop := imaging.Crop(frame, r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2)
	data, err := imaging.EncodeJPEG(crop)
	if err != nil {
		return errResult(r, fmt.Errorf("encode crop: %w", err))
	}

	values, err := d.dec.Decode(data)
	if err != nil {
		return errResult(r, fmt.Errorf("decode barcode: %w", err))
	}

	res := baseResult(r)
	res.Barcodes = values
	for _, v := range values {
		if v != "" {
			res.Passed = true
			break
		}
	}
	return res
}
