// Package language is the catalog of languages a session can be started for:
// which runtime image backs each one and how a file of each kind is run.
package language

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
)

type Language string

const (
	Python     Language = "python"
	JavaScript Language = "js"
	TypeScript Language = "ts"
	Java       Language = "java"
	Go         Language = "go"
	Rust       Language = "rust"
	Ruby       Language = "ruby"
	C          Language = "c"
	CPP        Language = "cpp"
)

// Image describes where a language's runtime image comes from.
// An empty Recipe means the image is pulled from a registry; otherwise
// Recipe names an embedded Dockerfile the image is built from.
type Image struct {
	Ref    string
	Recipe string
}

func (i Image) Built() bool { return i.Recipe != "" }

var images = map[Language]Image{
	Python:     {Ref: "python:3.11-alpine"},
	JavaScript: {Ref: "node:24-alpine"},
	TypeScript: {Ref: "node-ts:24-alpine", Recipe: "node-ts.Dockerfile"},
	Java:       {Ref: "alpine/java:21-jdk"},
	Go:         {Ref: "golang:1.19-alpine"},
	Rust:       {Ref: "rust:1.88-alpine"},
	Ruby:       {Ref: "ruby:3.1-alpine"},
	C:          {Ref: "gcc:alpine", Recipe: "gcc.Dockerfile"},
	CPP:        {Ref: "gcc:alpine", Recipe: "gcc.Dockerfile"},
}

// All returns the supported languages in a stable order.
func All() []Language {
	return []Language{Python, JavaScript, TypeScript, Java, Go, Rust, Ruby, C, CPP}
}

// Parse validates a client supplied language identifier.
func Parse(s string) (Language, error) {
	l := Language(s)
	if _, ok := images[l]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
	}
	return l, nil
}

func (l Language) Image() (Image, error) {
	img, ok := images[l]
	if !ok {
		return Image{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, string(l))
	}
	return img, nil
}

// CommandFor derives the shell command that builds and runs filename
// inside the sandbox working directory. Selection is by extension only.
func CommandFor(filename string) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	switch strings.TrimPrefix(ext, ".") {
	case "py":
		return "python " + filename, nil
	case "js":
		return "node " + filename, nil
	case "ts":
		return "tsc " + filename + " && node " + base + ".js", nil
	case "java":
		return "javac " + filename + " && java " + base, nil
	case "go":
		return "go run " + filename, nil
	case "rs":
		return "rustc --error-format=short " + filename + " && ./" + base, nil
	case "rb":
		return "ruby " + filename, nil
	case "c":
		return "gcc -o " + base + " " + filename + " && ./" + base, nil
	case "cpp":
		return "g++ -o " + base + " " + filename + " && ./" + base, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
}
