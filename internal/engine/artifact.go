package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stepflow-monitor/internal/model"
)

// resolveArtifact turns an ARTIFACT marker's declared path into the
// model.Artifact the statemachine records: the path is resolved against
// the execution's working directory, then stat'd so the record reflects
// reality even when the script's own claim about the file is stale. A
// missing file is not an error — scripts sometimes declare an artifact
// moments before writing it — it is recorded with Missing set so the UI
// can say so.
//
// A resolved path that escapes workingDir, or a file larger than
// maxBytes, is rejected outright: the returned Artifact is nil and the
// second return value carries the reason, for the caller to log as a
// warning rather than register.
func resolveArtifact(workingDir, declaredPath, description string, maxBytes int64) (*model.Artifact, string) {
	resolved := declaredPath
	if !filepath.IsAbs(declaredPath) {
		resolved = filepath.Join(workingDir, declaredPath)
	}

	root, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, fmt.Sprintf("could not resolve working directory %q: %v", workingDir, err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Sprintf("could not resolve artifact path %q: %v", declaredPath, err)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Sprintf("artifact path %q escapes working directory", declaredPath)
	}

	a := &model.Artifact{
		ID:           model.NewID(),
		DeclaredPath: declaredPath,
		ResolvedPath: resolved,
		FileName:     filepath.Base(declaredPath),
		Description:  description,
		Tags:         []string{},
		Type:         classifyByExtension(declaredPath),
		MimeType:     mimeByExtension(declaredPath),
	}

	info, err := os.Stat(resolved)
	if err != nil {
		a.Missing = true
		return a, ""
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Sprintf("artifact %q is %d bytes, exceeds limit of %d bytes", declaredPath, info.Size(), maxBytes)
	}
	a.SizeBytes = info.Size()

	return a, ""
}

var extensionTypes = map[string]model.ArtifactType{
	".png": model.ArtifactImage, ".jpg": model.ArtifactImage, ".jpeg": model.ArtifactImage,
	".gif": model.ArtifactImage, ".svg": model.ArtifactImage, ".webp": model.ArtifactImage,

	".pdf": model.ArtifactDocument, ".doc": model.ArtifactDocument, ".docx": model.ArtifactDocument,
	".txt": model.ArtifactDocument, ".md": model.ArtifactDocument, ".html": model.ArtifactDocument,

	".json": model.ArtifactData, ".csv": model.ArtifactData, ".xml": model.ArtifactData,
	".yaml": model.ArtifactData, ".yml": model.ArtifactData, ".parquet": model.ArtifactData,

	".log": model.ArtifactLog,

	".zip": model.ArtifactArchive, ".tar": model.ArtifactArchive, ".gz": model.ArtifactArchive,
	".tgz": model.ArtifactArchive, ".bz2": model.ArtifactArchive,
}

func classifyByExtension(path string) model.ArtifactType {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return model.ArtifactOther
}

// extensionMimeTypes maps an artifact's extension straight to the MIME
// type spec §3 says an artifact's MimeType field carries ("inferred from
// extension", not content-sniffed) — a hand-picked table rather than
// net/http.DetectContentType or the stdlib mime package, since both sniff
// or fall back to the host's /etc/mime.types and can't be relied on to
// agree with the fixed extension->type mapping the spec's scenarios
// expect (e.g. report.xml -> application/xml, not text/xml).
var extensionMimeTypes = map[string]string{
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg",
	".gif": "image/gif", ".svg": "image/svg+xml", ".webp": "image/webp",

	".pdf": "application/pdf", ".doc": "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain", ".md": "text/markdown", ".html": "text/html",

	".json": "application/json", ".csv": "text/csv", ".xml": "application/xml",
	".yaml": "application/x-yaml", ".yml": "application/x-yaml", ".parquet": "application/octet-stream",

	".log": "text/plain",

	".zip": "application/zip", ".tar": "application/x-tar", ".gz": "application/gzip",
	".tgz": "application/gzip", ".bz2": "application/x-bzip2",
}

func mimeByExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if m, ok := extensionMimeTypes[ext]; ok {
		return m
	}
	return "application/octet-stream"
}
