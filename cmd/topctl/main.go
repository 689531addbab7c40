// Command topctl calls TOP API methods from the shell.
//
//	topctl call item_get num_iid=520000 fields=title,price
//	topctl call tmall__item_img_upload num_iid=1 image=@photo.png
//	topctl session set 6100a... --expires 24h
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
