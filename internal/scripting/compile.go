package scripting

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"golang.org/x/crypto/blake2b"
)

// Compiled is a parsed program ready to be instantiated any number of times.
type Compiled struct {
	Name   string
	Proto  *lua.FunctionProto
	Digest string
}

// Compile parses and compiles src without running it.
func Compile(name string, src []byte) (*Compiled, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Compiled{Name: name, Proto: proto, Digest: Digest(src)}, nil
}

// CompileFile compiles a script from disk.
func CompileFile(path string) (*Compiled, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	return Compile(filepath.Base(path), src)
}

// Digest is the BLAKE2b-256 of a program source, hex encoded.
func Digest(src []byte) string {
	sum := blake2b.Sum256(src)
	return hex.EncodeToString(sum[:])
}
