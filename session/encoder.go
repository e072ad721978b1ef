package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sort"
)

const sessionFormatVersion = 1

// The binary layout keeps the refresh hash and both timestamps at fixed
// offsets so the rotation script can splice them without a full parse:
//
//	[0]      version
//	[1:33]   refresh hash
//	[33:41]  created-at, int64 big endian
//	[41:49]  expires-at, int64 big endian
//	[49:]    length-prefixed family id, user id, actor type, role,
//	         ip hash (32 raw bytes), device info, extra claim pairs
const fixedHeaderSize = 49

// Encode serializes a [Session] into the compact binary blob stored in
// Redis. The jti is the storage key and is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersion)
	buf.Write(s.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"familyID", s.FamilyID},
		{"userID", s.UserID},
		{"actorType", s.ActorType},
		{"role", s.Role},
	} {
		if len(field.value) > 255 {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	buf.Write(s.IPHash[:])

	if len(s.DeviceInfo) > 255 {
		return nil, errors.New("deviceInfo too long")
	}
	buf.WriteByte(byte(len(s.DeviceInfo)))
	buf.WriteString(s.DeviceInfo)

	if len(s.Extra) > 255 {
		return nil, errors.New("too many extra claims")
	}
	buf.WriteByte(byte(len(s.Extra)))
	keys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := s.Extra[k]
		if len(k) > 255 || len(v) > 255 {
			return nil, errors.New("extra claim too long")
		}
		buf.WriteByte(byte(len(k)))
		buf.WriteString(k)
		buf.WriteByte(byte(len(v)))
		buf.WriteString(v)
	}

	return buf.Bytes(), nil
}

// Decode deserializes a session blob. The caller assigns ID from the
// storage key afterward.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersion {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}

	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&s.FamilyID, &s.UserID, &s.ActorType, &s.Role} {
		value, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*dst = value
	}

	if _, err := io.ReadFull(reader, s.IPHash[:]); err != nil {
		return nil, err
	}

	device, err := readString(reader)
	if err != nil {
		return nil, err
	}
	s.DeviceInfo = device

	extraCount, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if extraCount > 0 {
		s.Extra = make(map[string]string, extraCount)
		for i := 0; i < int(extraCount); i++ {
			k, err := readString(reader)
			if err != nil {
				return nil, err
			}
			v, err := readString(reader)
			if err != nil {
				return nil, err
			}
			s.Extra[k] = v
		}
	}

	if s.FamilyID == "" || s.UserID == "" {
		return nil, errors.New("invalid session blob")
	}

	return s, nil
}

func readString(reader *bytes.Reader) (string, error) {
	length, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
