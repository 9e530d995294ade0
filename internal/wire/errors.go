package wire

import "errors"

// ErrInvalidPacket is returned when an email message cannot be decoded into
// a PlainPacket or SecurePacket: wrong X-Mailer, wrong content type, a
// malformed address, base64 or protobuf body. Signatures are not checked
// here; the ratchet layer reports a bad one as ratchet.ErrSignatureInvalid.
// Callers must leave the source message unseen on this error so it
// can be retried or ignored; the core never crashes on a malformed packet.
var ErrInvalidPacket = errors.New("wire: invalid packet")
