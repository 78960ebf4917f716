package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainSpec   = "protoflow/spec/v1"
	DomainRecord = "protoflow/record/v1"
	DomainCall   = "protoflow/call/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SpecHash is the content hash of a capability set. Order of specs does not
// matter; order of members within a spec does.
func SpecHash(specs []ProtocolSpec) (string, error) {
	sorted := slices.Clone(specs)
	slices.SortFunc(sorted, func(a, b ProtocolSpec) int {
		return strings.Compare(a.Name, b.Name)
	})

	list := make(List, len(sorted))
	for i, s := range sorted {
		list[i] = s.Object()
	}

	canonical, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("SpecHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSpec, canonical), nil
}

// RecordID is the content-addressed identity of a stored record: the same
// collection and key always map to the same id.
func RecordID(collection string, key Value) (string, error) {
	canonical, err := MarshalCanonical(Object{
		"collection": String(collection),
		"key":        key,
	})
	if err != nil {
		return "", fmt.Errorf("RecordID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// CallFingerprint hashes what a call did, ignoring its id and seq. Two calls
// with equal fingerprints dispatched the same method with the same arguments.
func CallFingerprint(c Call) (string, error) {
	obj := c.Object()
	delete(obj, "id")
	delete(obj, "seq")

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CallFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCall, canonical), nil
}

// MustSpecHash is like SpecHash but panics on error.
func MustSpecHash(specs []ProtocolSpec) string {
	h, err := SpecHash(specs)
	if err != nil {
		panic(err)
	}
	return h
}

// MustRecordID is like RecordID but panics on error.
func MustRecordID(collection string, key Value) string {
	id, err := RecordID(collection, key)
	if err != nil {
		panic(err)
	}
	return id
}
