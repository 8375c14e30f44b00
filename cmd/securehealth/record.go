package main

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	mr "github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/medical_record"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/service"
	"github.com/spf13/cobra"
)

func recordCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Publish and read medical records",
	}

	var (
		recordType   string
		description  string
		providerName string
		files        []string
	)
	add := &cobra.Command{
		Use:   "add <patient-id>",
		Short: "Append a record entry, uploading attachments first",
		Args:  cobra.ExactArgs(1),
		Example: `  securehealth record add alice-123 --type "Laboratory Test" \
      --description "Lipid panel" --file results.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, contentType, err := recordForm(recordType, description, providerName, files)
			if err != nil {
				return err
			}
			var res service.PublishResult
			status, msg, err := newAPIClient(opts).call(cmd.Context(), http.MethodPost,
				"/patients/"+url.PathEscape(args[0])+"/records", body, contentType, &res)
			if err != nil {
				return err
			}
			return printMutation(opts, status, msg, "Published entry "+res.Entry.ID, res.Outcome, res)
		},
	}
	add.Flags().StringVar(&recordType, "type", "", "Record type: "+recordTypeList())
	add.Flags().StringVar(&description, "description", "", "Entry description (required)")
	add.Flags().StringVar(&providerName, "provider-name", "", "Provider name shown on the entry")
	add.Flags().StringArrayVar(&files, "file", nil, fmt.Sprintf("Attachment path, repeatable (max %d)", mr.MaxAttachments))
	_ = add.MarkFlagRequired("type")
	_ = add.MarkFlagRequired("description")
	cmd.AddCommand(add)

	var filterType, search string
	list := &cobra.Command{
		Use:   "list <patient-id>",
		Short: "List a patient's record entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if filterType != "" {
				q.Set("type", filterType)
			}
			if search != "" {
				q.Set("q", search)
			}
			path := "/patients/" + url.PathEscape(args[0]) + "/records"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var set service.RecordSet
			if err := newAPIClient(opts).getJSON(cmd.Context(), path, &set); err != nil {
				return err
			}
			return render(opts, set, func(w io.Writer) {
				if len(set.Entries) == 0 {
					fmt.Fprintln(w, "No records.")
					return
				}
				fmt.Fprintln(w, "DATE\tTYPE\tPROVIDER\tDESCRIPTION\tFILES")
				for _, e := range set.Entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
						e.Timestamp.Format("2006-01-02"), e.RecordType, e.ProviderName, e.Description, len(e.Attachments))
				}
			})
		},
	}
	list.Flags().StringVar(&filterType, "type", "", "Only entries of this record type")
	list.Flags().StringVar(&search, "search", "", "Case-insensitive text search")
	cmd.AddCommand(list)

	var outPath string
	download := &cobra.Command{
		Use:   "download <patient-id> <content-id>",
		Short: "Download an attachment of a patient's record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, hdr, err := newAPIClient(opts).download(cmd.Context(),
				"/patients/"+url.PathEscape(args[0])+"/attachments/"+url.PathEscape(args[1]))
			if err != nil {
				return err
			}
			target := outPath
			if target == "" {
				target = args[1]
				if _, params, err := mime.ParseMediaType(hdr.Get("Content-Disposition")); err == nil && params["filename"] != "" {
					target = filepath.Base(params["filename"])
				}
			}
			if err := os.WriteFile(target, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Saved %d bytes to %s\n", len(data), target)
			return nil
		},
	}
	download.Flags().StringVar(&outPath, "out", "", "Output file (defaults to the attachment name)")
	cmd.AddCommand(download)

	return cmd
}

func recordForm(recordType, description, providerName string, paths []string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, value := range map[string]string{
		"record_type":   recordType,
		"description":   description,
		"provider_name": providerName,
	} {
		if err := w.WriteField(field, value); err != nil {
			return nil, "", err
		}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, "", fmt.Errorf("reading attachment: %w", err)
		}
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     "attachments",
			"filename": filepath.Base(p),
		}))
		if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
			hdr.Set("Content-Type", ct)
		}
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func recordTypeList() string {
	names := make([]string, len(mr.RecordTypes))
	for i, t := range mr.RecordTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
