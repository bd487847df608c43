package ir

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// Format names the bytecode encoding. It is bumped whenever opcode numbering
// or the Program layout changes.
const Format = "NXC1"

// A .nxc file is the magic header, the canonical CBOR encoding of the
// Program, then the BLAKE2b-256 digest of that encoding.
var magicV1 = [4]byte([]byte(Format))

// DigestSize is the length of a program digest in bytes.
const DigestSize = blake2b.Size256

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalProgram serializes a Program to canonical CBOR bytes. Equal
// programs always encode to equal bytes.
func MarshalProgram(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(p)
}

// UnmarshalProgram deserializes a Program from CBOR bytes.
func UnmarshalProgram(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ir: unmarshal program: %w", err)
	}
	if p.Functions == nil {
		p.Functions = make(map[string]FuncInfo)
	}
	return &p, nil
}

// Digest returns the BLAKE2b-256 digest of the program's canonical encoding.
func (p *Program) Digest() ([DigestSize]byte, error) {
	data, err := MarshalProgram(p)
	if err != nil {
		return [DigestSize]byte{}, err
	}
	return blake2b.Sum256(data), nil
}

func WriteProgramToFile(filename string, p *Program) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteProgram(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ReadProgramFromFile(filename string) (*Program, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadProgram(f)
}

func WriteProgram(w io.Writer, p *Program) error {
	data, err := MarshalProgram(p)
	if err != nil {
		return err
	}
	digest := blake2b.Sum256(data)

	// magic
	if _, err := w.Write(magicV1[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write(digest[:])
	return err
}

// ReadProgram decodes a program written by WriteProgram, checking the digest
// trailer and validating the result.
func ReadProgram(r io.Reader) (*Program, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) < len(magicV1)+DigestSize {
		return nil, fmt.Errorf("bytecode file too short (%d bytes)", len(raw))
	}
	if !bytes.Equal(raw[:len(magicV1)], magicV1[:]) {
		return nil, fmt.Errorf("invalid magic header: %q", string(raw[:len(magicV1)]))
	}

	body := raw[len(magicV1) : len(raw)-DigestSize]
	trailer := raw[len(raw)-DigestSize:]
	digest := blake2b.Sum256(body)
	if subtle.ConstantTimeCompare(digest[:], trailer) != 1 {
		return nil, fmt.Errorf("bytecode digest mismatch")
	}

	p, err := UnmarshalProgram(body)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
