package object

var blobMagic = [4]byte{'D', 'B', 'L', 1}

// Blob is a leaf object: the canonical bytes of a single JSON or TEXT
// entry. Directories never have a Blob; they are represented by Tree.
type Blob struct {
	Data []byte
}

// Encode returns the on-disk representation stored under the blob's
// content hash.
func (b *Blob) Encode() []byte {
	out := make([]byte, 0, len(blobMagic)+len(b.Data))
	out = append(out, blobMagic[:]...)
	out = append(out, b.Data...)
	return out
}

// DecodeBlob parses the on-disk representation produced by Encode.
func DecodeBlob(raw []byte) (*Blob, error) {
	if len(raw) < len(blobMagic) || [4]byte(raw[:4]) != blobMagic {
		return nil, errBadMagic("blob")
	}
	data := make([]byte, len(raw)-len(blobMagic))
	copy(data, raw[len(blobMagic):])
	return &Blob{Data: data}, nil
}
