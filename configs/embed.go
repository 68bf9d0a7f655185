// Package configs provides the embedded configuration template written by
// `candlekeep init`. Embedding keeps the template available in every
// distribution, source builds and binary releases alike.
package configs

import _ "embed"

// ConfigTemplate is the annotated starter configuration. `candlekeep init`
// writes it as candlekeep.yaml in the working directory.
//
//go:embed candlekeep.example.yaml
var ConfigTemplate string
