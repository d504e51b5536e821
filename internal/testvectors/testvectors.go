// Copyright 2024 The Boson Network Authors
// This file is part of the dht-go library.
//
// The dht-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The dht-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dht-go library. If not, see <http://www.gnu.org/licenses/>.

// Package testvectors loads golden wire-format fixtures for codec
// tests.
package testvectors

import (
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"
)

// ReadYml unmarshals a YAML fixture from root into obj.
func ReadYml(root fs.FS, name string, obj any) error {
	bts, err := fs.ReadFile(root, name)
	if err != nil {
		return fmt.Errorf("couldnt read vector: %w", err)
	}
	if err := yaml.Unmarshal(bts, obj); err != nil {
		return fmt.Errorf("couldnt parse vector: %w", err)
	}
	return nil
}

// MessageVector is one golden envelope: the raw hex bytes and the
// header fields a parse must recover.
type MessageVector struct {
	Name     string `yaml:"name"`
	Hex      string `yaml:"hex"`
	Type     string `yaml:"type"`
	Method   string `yaml:"method"`
	Txid     uint32 `yaml:"txid"`
	Version  uint32 `yaml:"version"`
	SenderId string `yaml:"senderId"`
}

// MessageVectors is the top-level fixture shape.
type MessageVectors struct {
	Vectors []MessageVector `yaml:"vectors"`
}

// ReadMessageVectors loads the named fixture file.
func ReadMessageVectors(root fs.FS, name string) (MessageVectors, error) {
	var v MessageVectors
	err := ReadYml(root, name, &v)
	return v, err
}
