// Package main is the entry point for TradeGate.
package main

func main() {
	Execute()
}
