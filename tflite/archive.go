package tflite

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	localHeaderSig = 0x04034b50
	localHeaderLen = 30
)

// PackedFile is an associated file stored in the zip archive that trails the
// model flatbuffer.
type PackedFile struct {
	Name string
	Data []byte
}

// readArchive returns the files of a trailing zip archive and the offset at
// which the archive starts. Without an archive the offset is len(data).
func readArchive(data []byte) ([]PackedFile, int64) {
	size := int64(len(data))
	zr, err := zip.NewReader(bytes.NewReader(data), size)
	if err != nil || len(zr.File) == 0 {
		return nil, size
	}

	start := size
	files := make([]PackedFile, 0, len(zr.File))
	for _, f := range zr.File {
		dataOff, err := f.DataOffset()
		if err != nil {
			return nil, size
		}
		hdr, ok := localHeaderStart(data, dataOff, len(f.Name))
		if !ok {
			return nil, size
		}
		if hdr < start {
			start = hdr
		}

		rc, err := f.Open()
		if err != nil {
			return nil, size
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, size
		}
		files = append(files, PackedFile{Name: f.Name, Data: body})
	}
	return files, start
}

// localHeaderStart finds the local file header whose data begins at dataOff.
// The extra field length is only known from the header itself, so candidates
// are checked against the lengths they declare.
func localHeaderStart(data []byte, dataOff int64, nameLen int) (int64, bool) {
	hi := dataOff - localHeaderLen - int64(nameLen)
	lo := hi - 0xffff
	if lo < 0 {
		lo = 0
	}
	for h := hi; h >= lo; h-- {
		if h+localHeaderLen > int64(len(data)) {
			continue
		}
		hdr := data[h : h+localHeaderLen]
		if binary.LittleEndian.Uint32(hdr) != localHeaderSig {
			continue
		}
		n := int64(binary.LittleEndian.Uint16(hdr[26:]))
		extra := int64(binary.LittleEndian.Uint16(hdr[28:]))
		if h+localHeaderLen+n+extra == dataOff {
			return h, true
		}
	}
	return 0, false
}

// writeArchive appends files as an uncompressed zip so runtimes can map them
// straight out of the model file. offset is where the archive starts in the
// final file.
func writeArchive(w io.Writer, offset int64, files []PackedFile) error {
	zw := zip.NewWriter(w)
	zw.SetOffset(offset)
	for _, f := range files {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   f.Name,
			Method: zip.Store,
		})
		if err != nil {
			return fmt.Errorf("add %s to archive: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("write %s to archive: %w", f.Name, err)
		}
	}
	return zw.Close()
}
