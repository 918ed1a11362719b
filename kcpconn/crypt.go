// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package kcpconn

import (
	"crypto/sha1"

	kcp "github.com/xtaci/kcp-go/v5"
	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Salt matches the teacher's key-expansion recipe in
// xtaci-kcptun's client/server main.go, reused here so that kcprpc's
// optional pre-shared-key mode derives keys the same way the rest of the
// xtaci KCP family does.
const pbkdf2Salt = "kcp-go"

// DeriveBlockCrypt builds an AES BlockCrypt from a pre-shared key string,
// for callers that want on-wire encryption under the KCP session. It is
// optional: sessions may also be built with a nil BlockCrypt.
func DeriveBlockCrypt(key string) (kcp.BlockCrypt, error) {
	pass := pbkdf2.Key([]byte(key), []byte(pbkdf2Salt), 4096, 32, sha1.New)
	return kcp.NewAESBlockCrypt(pass)
}
