// Package filetransfer splits outgoing files into fixed-size chunks and
// reassembles incoming chunks that may arrive in any order.
package filetransfer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultChunkSize is the plaintext size of every chunk but the last.
const DefaultChunkSize = 16 * 1024

// MaxTotalChunks bounds the chunk count a peer may announce: 1 GiB at the
// smallest allowed chunk size of 1 KiB.
const MaxTotalChunks = 1 << 20

var (
	ErrInvalidChunk  = errors.New("invalid chunk")
	ErrFileCompleted = errors.New("file already completed")
)

// File is an in-memory file handed to SendFile or produced by an Assembler.
type File struct {
	Name string
	Type string
	Data []byte
}

// Plan describes one outgoing transfer of a file to one peer.
type Plan struct {
	FileID      string
	PeerID      string
	Size        int
	ChunkSize   int
	TotalChunks int
}

// NewPlan allocates a transfer id and computes the chunk count. An empty
// file still produces one (empty) chunk so the receiver learns about it.
func NewPlan(peerID string, size, chunkSize int) Plan {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	total := (size + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	return Plan{
		FileID:      uuid.NewString(),
		PeerID:      peerID,
		Size:        size,
		ChunkSize:   chunkSize,
		TotalChunks: total,
	}
}

// Chunk returns the plaintext slice for index i of data.
func (p Plan) Chunk(data []byte, i int) []byte {
	start := i * p.ChunkSize
	end := min(start+p.ChunkSize, len(data))
	if start >= end {
		return []byte{}
	}
	return data[start:end]
}

// Chunk is one decrypted piece of an incoming file.
type Chunk struct {
	FileID      string
	Index       int
	TotalChunks int
	FileName    string
	FileType    string
	Data        []byte
}

type assembly struct {
	from     string
	name     string
	fileType string
	total    int
	// slots fill sparsely, so memory follows what actually arrived rather
	// than what the peer announced.
	slots map[int][]byte
}

// Assembler accumulates chunks per file id. It is not safe for concurrent
// use; the session registry owns it from a single goroutine.
type Assembler struct {
	assemblies map[string]*assembly
	// completed remembers finished file ids per source peer so late
	// duplicates do not start a new assembly.
	completed map[string]map[string]struct{}
}

func NewAssembler() *Assembler {
	return &Assembler{
		assemblies: make(map[string]*assembly),
		completed:  make(map[string]map[string]struct{}),
	}
}

// Add stores a chunk at its index. Writing an index twice replaces the
// slot (last write wins) without counting it again. When every slot is
// populated the file is returned with done=true and the assembly is
// dropped. Chunks for a file that already completed return
// ErrFileCompleted.
func (a *Assembler) Add(from string, c Chunk) (file File, done bool, err error) {
	if c.TotalChunks <= 0 || c.TotalChunks > MaxTotalChunks || c.Index < 0 || c.Index >= c.TotalChunks {
		return File{}, false, fmt.Errorf("%w: index %d of %d", ErrInvalidChunk, c.Index, c.TotalChunks)
	}
	if _, ok := a.completed[from][c.FileID]; ok {
		return File{}, false, fmt.Errorf("%w: %s", ErrFileCompleted, c.FileID)
	}

	asm, ok := a.assemblies[c.FileID]
	if !ok {
		asm = &assembly{
			from:     from,
			name:     c.FileName,
			fileType: c.FileType,
			total:    c.TotalChunks,
			slots:    make(map[int][]byte),
		}
		a.assemblies[c.FileID] = asm
	}

	if asm.from != from {
		return File{}, false, fmt.Errorf("%w: file %s belongs to another peer", ErrInvalidChunk, c.FileID)
	}
	if asm.total != c.TotalChunks {
		return File{}, false, fmt.Errorf("%w: total chunks changed from %d to %d", ErrInvalidChunk, asm.total, c.TotalChunks)
	}

	data := c.Data
	if data == nil {
		data = []byte{}
	}
	asm.slots[c.Index] = data

	if len(asm.slots) < asm.total {
		return File{}, false, nil
	}

	delete(a.assemblies, c.FileID)
	if a.completed[from] == nil {
		a.completed[from] = make(map[string]struct{})
	}
	a.completed[from][c.FileID] = struct{}{}

	size := 0
	for _, chunk := range asm.slots {
		size += len(chunk)
	}
	out := make([]byte, 0, size)
	for i := 0; i < asm.total; i++ {
		out = append(out, asm.slots[i]...)
	}

	return File{Name: asm.name, Type: asm.fileType, Data: out}, true, nil
}

// DropPeer discards every partial assembly that came from peerID, and the
// record of its completed files, and returns how many partial assemblies
// were dropped.
func (a *Assembler) DropPeer(peerID string) int {
	delete(a.completed, peerID)
	dropped := 0
	for id, asm := range a.assemblies {
		if asm.from == peerID {
			delete(a.assemblies, id)
			dropped++
		}
	}
	return dropped
}

// Pending returns the number of incomplete assemblies.
func (a *Assembler) Pending() int {
	return len(a.assemblies)
}
