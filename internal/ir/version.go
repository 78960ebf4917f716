package ir

// IRVersion names the canonical layout of ProtocolSpec. Compiled IR files
// carry it next to the spec hash.
const IRVersion = "1"

// EngineVersion is the protoflow release.
const EngineVersion = "0.1.0"
