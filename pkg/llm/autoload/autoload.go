// Package autoload registers all built-in LLM providers via side effects.
// Blank-import it from main to make every provider factory available.
package autoload

import (
	_ "parley/pkg/llm/gemini"
	_ "parley/pkg/llm/ollamalm"
	_ "parley/pkg/llm/openailm"
)
