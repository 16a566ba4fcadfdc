// Package archive manipulates release zip archives.
//
// ReplaceEntry swaps a single entry in place of a full unpack/repack cycle by
// copying every other entry raw. The Archiver implementations unpack and pack
// whole directory trees, either with archive/zip or with the unzip and zip
// command-line tools.
package archive
