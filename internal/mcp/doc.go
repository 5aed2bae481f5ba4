// Package mcp exposes the knowledge base over the Model Context Protocol.
//
// The server registers semantic search, channel history, and write tools
// backed by a knowledge.Base and speaks MCP over any SDK transport, most
// commonly stdio. Failures the caller can correct, such as an empty query
// or an unknown source, come back as tool results with IsError set so the
// calling model can read them and retry. Infrastructure failures are
// returned as protocol errors instead.
package mcp
