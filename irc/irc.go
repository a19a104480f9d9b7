/*
Package irc implements the line-oriented wire protocol shared by the chat
server and the webapp bridge: message framing over a raw byte stream,
parsing of prefix/command/parameters, lossless serialization, hostmask
helpers, and the numeric reply table.

# Message format

Messages are CRLF-terminated lines of the form

	[:prefix] COMMAND [param ...] [:trailing]

A leading ':' token up to the first space is the prefix (the sender's
nick!user@host or a server name). The first remaining token is the command,
upper-cased during parsing. Remaining tokens are positional parameters; a
token starting with ':' consumes the entire remainder, spaces included, as
the final trailing parameter.

Serialization is the syntactic inverse: the last parameter is prefixed with
':' if and only if it contains a space, is empty, or already begins with
':', so that every message accepted by ParseMessage round-trips.

# Framing

LineBuffer accumulates arbitrary, possibly fragmented chunks read from a
socket and yields complete lines, retaining the trailing partial line until
the rest of it arrives. It accepts both CRLF and bare LF terminators.
*/
package irc
