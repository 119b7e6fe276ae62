// Command capturectl operates on a capture library from the command line.
//
// It opens the same library directory as the server (see the startup package
// for configuration) and offers one subcommand per maintenance task:
//
//	capturectl stats
//	capturectl search [--limit N] [--pinned] [--explain] <query>
//	capturectl add [--note TEXT] [--tags a,b] [--pin] [--keep-original] <image>
//	capturectl cleanup [--retention-days N] [--max-items N] [--max-bytes N]
//	capturectl reindex [--lang en --lang ja] [--resume]
//	capturectl import <history.json>
//	capturectl sweep
//
// Output is JSON on stdout. Errors go to stderr with a non-zero exit code.
//
// The server and capturectl must not write to the same library at the same
// time; stop the server before running maintenance commands.
package main
