// Package tlsutil 为上游 LLM 调用提供安全加固的默认传输层（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
