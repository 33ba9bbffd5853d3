package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/despertar/media/internal/media"
	"github.com/despertar/media/internal/storage"
)

// UploadCmd stores a local file the same way the API does.
func UploadCmd() *cobra.Command {
	var contentType, key string
	cmd := &cobra.Command{
		Use:   "upload <folder> <owner> <path>",
		Short: "Upload a local file under a new key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := storage.ParseFolder(args[0])
			if err != nil {
				return err
			}
			ctx, a, closer, err := open(cmd)
			if err != nil {
				return err
			}
			defer closer()

			if key != "" {
				// Raw upload: the engine reopens the file for every attempt.
				meta := storage.Metadata{ContentType: contentType, OriginalName: filepath.Base(args[2]), Owner: args[1]}
				if _, err := a.Uploader.Upload(ctx, key, storage.PathSource{Path: args[2]}, meta); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "key:  %s\nurl:  %s\n", key, a.URLs.PublicURL(key))
				return nil
			}

			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}
			if st.IsDir() {
				return fmt.Errorf("%s is a directory", args[2])
			}

			stored, err := a.Media.Store(ctx, folder, args[1], media.File{
				Reader:      f,
				Size:        st.Size(),
				Name:        filepath.Base(args[2]),
				ContentType: contentType,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:  %s\n", stored.Key)
			fmt.Fprintf(out, "url:  %s\n", stored.URL)
			fmt.Fprintf(out, "type: %s\n", stored.ContentType)
			fmt.Fprintf(out, "size: %s\n", humanize.IBytes(uint64(stored.Size)))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type to record (detected when empty)")
	cmd.Flags().StringVar(&key, "key", "", "Upload to this exact key without recording it in the ledger")
	return cmd
}
