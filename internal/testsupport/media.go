package testsupport

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/klauspost/compress/zip"
)

// PNGBytes encodes a solid black w×h PNG.
func PNGBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Black)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEGBytes encodes a w×h JPEG with a horizontal gradient.
func JPEGBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / max(w-1, 1))
			img.Set(x, y, color.RGBA{R: v, G: v, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WAVBytes builds a silent 16-bit PCM WAV with the given frame count.
func WAVBytes(sampleRate, channels, frames int) []byte {
	return wavBytes(sampleRate, channels, frames, nil)
}

// WAVExtensibleBytes is WAVBytes with a WAVE_FORMAT_EXTENSIBLE fmt chunk
// whose sub-format GUID starts with subFormat (1 is PCM).
func WAVExtensibleBytes(sampleRate, channels, frames int, subFormat uint16) []byte {
	var ext bytes.Buffer
	_ = binary.Write(&ext, binary.LittleEndian, uint16(22))
	_ = binary.Write(&ext, binary.LittleEndian, uint16(16))
	_ = binary.Write(&ext, binary.LittleEndian, uint32(0))
	_ = binary.Write(&ext, binary.LittleEndian, subFormat)
	ext.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71})
	return wavBytes(sampleRate, channels, frames, ext.Bytes())
}

func wavBytes(sampleRate, channels, frames int, ext []byte) []byte {
	const bitDepth = 16
	blockAlign := channels * bitDepth / 8
	dataSize := frames * blockAlign
	format := uint16(1)
	if ext != nil {
		format = 0xFFFE
	}
	fmtSize := 16 + len(ext)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+8+fmtSize+8+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(fmtSize))
	_ = binary.Write(&buf, binary.LittleEndian, format)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))
	buf.Write(ext)
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}

// ZipBytes packs members into a zip archive, in the order given.
func ZipBytes(t testing.TB, members []ZipMember) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.Name)
		if err != nil {
			t.Fatalf("zip create %s: %v", m.Name, err)
		}
		if _, err := w.Write(m.Data); err != nil {
			t.Fatalf("zip write %s: %v", m.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// ZipMember is one file inside a test archive.
type ZipMember struct {
	Name string
	Data []byte
}

// SpriteDescriptor renders a minimal Scratch 2 sprite descriptor referencing
// the given sound and costume keys.
func SpriteDescriptor(name string, sounds, costumes []string) []byte {
	type sound struct {
		SoundName string `json:"soundName"`
		MD5       string `json:"md5"`
	}
	type costume struct {
		CostumeName  string `json:"costumeName"`
		BaseLayerMD5 string `json:"baseLayerMD5"`
	}
	doc := struct {
		ObjName  string    `json:"objName"`
		Sounds   []sound   `json:"sounds"`
		Costumes []costume `json:"costumes"`
	}{ObjName: name}
	for _, key := range sounds {
		doc.Sounds = append(doc.Sounds, sound{SoundName: key, MD5: key})
	}
	for _, key := range costumes {
		doc.Costumes = append(doc.Costumes, costume{CostumeName: key, BaseLayerMD5: key})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}
