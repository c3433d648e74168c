package config

import "github.com/secmon-lab/tapestry/pkg/utils/retry"

// NewGeminiForTest creates a Gemini config for testing purposes
func NewGeminiForTest(projectID, location string) *Gemini {
	return &Gemini{
		projectID: projectID,
		location:  location,
	}
}

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{level: level, format: format, output: output}
}

// NewPipelineForTest creates a Pipeline config for testing purposes
func NewPipelineForTest(path string, batch, extractor int) *Pipeline {
	return &Pipeline{configPath: path, batchConcurrency: batch, extractorConcurrency: extractor}
}

// NewFileStoreForTest creates a FileStore config for testing purposes
func NewFileStoreForTest(backend, folderID, bucket string) *FileStore {
	return &FileStore{backend: backend, folderID: folderID, bucket: bucket, rateLimit: 8}
}

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend, dsn string) *Repository {
	return &Repository{backend: backend, postgres: Postgres{DSN: dsn}}
}

var ApplyRetrySection = func(s RetrySection, p *retry.Policy) { s.apply(p) }

var Redactor = redactor
