package main

const (
	exitCodeSuccess  = 0
	exitCodeUsage    = 1
	exitCodeDocument = 2
	exitCodeChannel  = 3
)
