// Package nlog is the leveled logger used throughout this module: a thin
// wrapper over the standard logger that every package calls instead of
// reaching for "log" or "fmt.Println" directly.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package nlog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

var (
	std   = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	mu    sync.Mutex
	level int32
)

// SetLevel controls the verbosity floor consulted by Rom.V (see cmn.Rom).
func SetLevel(l int) {
	mu.Lock()
	level = int32(l)
	mu.Unlock()
}

func Level() int {
	mu.Lock()
	defer mu.Unlock()
	return int(level)
}

func Infoln(v ...any)    { logln("INFO", v...) }
func Warningln(v ...any) { logln("WARN", v...) }
func Errorln(v ...any)   { logln("ERROR", v...) }

func InfoDepth(_ int, v ...any)    { logln("INFO", v...) }
func WarningDepth(_ int, v ...any) { logln("WARN", v...) }
func ErrorDepth(_ int, v ...any)   { logln("ERROR", v...) }

func logln(tag string, v ...any) {
	parts := make([]string, 0, len(v)+1)
	parts = append(parts, "["+tag+"]")
	for _, x := range v {
		parts = append(parts, toString(x))
	}
	std.Println(strings.Join(parts, " "))
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	return fmt.Sprint(v)
}
