package main

import "nodewatch/internal/client"

func main() {
	if err := rootCmd.Execute(); err != nil {
		client.Fail("%v", err)
	}
}
