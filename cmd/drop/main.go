package main

import (
	"flag"
	"fmt"
	"os"

	"filedrop/internal/client"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "filedrop server URL")
	title := flag.String("title", "", "display name for the shared file")
	to := flag.String("to", "", "comma-separated recipient emails (group share)")
	flag.Parse()

	req, err := client.ParseArgs(flag.Args(), *title, *to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	c := client.New(*server)

	if len(req.Recipients) > 0 {
		result, err := c.GroupUpload(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Shared %q with %d recipients\n", result.Name, result.RecipientsCount)
		for _, r := range result.Recipients {
			fmt.Printf("  %s  token=%s  expires=%s\n", r.Email, r.Token, r.ExpiresAt)
		}
		if len(result.NotificationFailed) > 0 {
			fmt.Printf("Could not email: %v (pass the tokens along yourself)\n", result.NotificationFailed)
		}
		return
	}

	result, err := c.Upload(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Shared %q (%d bytes)\n", result.Name, result.Size)
	fmt.Printf("One-time download link: %s\n", result.DownloadURL)
	fmt.Printf("Expires: %s\n", result.ExpiresAt)
}
