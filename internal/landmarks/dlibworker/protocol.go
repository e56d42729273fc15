// Package dlibworker talks to a long-lived Python process that wraps dlib's
// frontal face detector and 68-point shape predictor.
//
// Requests go to the child's stdin and responses come back on a dedicated
// pipe (FD 3) so stray prints from Python never corrupt the stream. Every
// message is framed as a big-endian uint32 length followed by the payload.
//
// Request payloads start with an opcode byte:
//
//	'I' w:uint32 h:uint32 pix[w*h]   load a grayscale frame
//	'D'                              detect faces on the loaded frame
//	'P' x0 y0 x1 y1:int32            predict 68 points inside a region
//
// Responses are JSON objects: {"faces": [[x0,y0,x1,y1], ...]},
// {"points": [[x,y], ...]}, {"ok": true} or {"error": "..."}.
package dlibworker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
)

const (
	opLoad    byte = 'I'
	opDetect  byte = 'D'
	opPredict byte = 'P'

	maxResponseBytes = 1 << 20
)

type response struct {
	OK     bool     `json:"ok,omitempty"`
	Faces  [][4]int `json:"faces,omitempty"`
	Points [][2]int `json:"points,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func writeFrame(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxResponseBytes {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	_, err := io.ReadFull(r, body)
	return body, err
}

func encodeLoad(gray *image.Gray) []byte {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	var buf bytes.Buffer
	buf.Grow(9 + w*h)
	buf.WriteByte(opLoad)
	binary.Write(&buf, binary.BigEndian, uint32(w))
	binary.Write(&buf, binary.BigEndian, uint32(h))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := gray.PixOffset(b.Min.X, y)
		buf.Write(gray.Pix[off : off+w])
	}
	return buf.Bytes()
}

func encodePredict(r image.Rectangle) []byte {
	var buf bytes.Buffer
	buf.WriteByte(opPredict)
	for _, v := range []int32{int32(r.Min.X), int32(r.Min.Y), int32(r.Max.X), int32(r.Max.Y)} {
		binary.Write(&buf, binary.BigEndian, v)
	}
	return buf.Bytes()
}

func decodeResponse(body []byte) (*response, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid worker response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}
