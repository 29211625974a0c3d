// Package nano implements the fast-path zone for requests of 256 bytes or
// less.
//
// Nano reserves one aligned region at creation. Every address inside it
// encodes where the block lives, from the low bits up:
//
//	offset (17 bits) | size class (4 bits) | band | magazine | region signature
//
// A magazine belongs to one physical CPU. Each (magazine, class) pair has an
// admin with a lock-free LIFO free list and a bump cursor; bands of 2 MiB are
// committed as the cursors advance. Freed blocks carry a guard word derived
// from the process secret, so a block modified after free is caught when it
// is next popped. Anything nano cannot serve goes to the helper zone.
//
// After ForkChild the allocator never writes its own state again: new
// requests go to the helper and frees of nano blocks are counted as leaks.
package nano
