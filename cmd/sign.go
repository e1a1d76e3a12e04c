package cmd

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/chukul/cloudsign/internal/azure"
	"github.com/chukul/cloudsign/internal/sign"
	"github.com/chukul/cloudsign/internal/transport"
	"github.com/spf13/cobra"
)

var (
	signProvider   string
	signProfile    string
	signRegion     string
	signService    string
	signAPIVersion string
	signBody       string
	signPresign    time.Duration
	signAccount    string
	signAzureKey   string
	signNoHash     bool
)

var signCmd = &cobra.Command{
	Use:   "sign [method] [url]",
	Short: "Sign a storage request and print the signed form",
	Long:  `Resolves credentials, signs the described request and prints the signed headers (or the presigned/signed URL) without sending anything.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		provider, err := transport.ParseProvider(signProvider)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}

		method := strings.ToUpper(args[0])
		req, err := http.NewRequest(method, args[1], nil)
		if err != nil {
			log.Fatalf("❌ Invalid request: %v", err)
		}
		now := time.Now()

		switch provider {
		case transport.ProviderAWS:
			_, cred := resolveAWS(signProfile, signRegion)
			signer := &sign.V4Signer{
				Credentials: sign.Credentials{
					AccessKeyID:     cred.AccessKeyID,
					SecretAccessKey: cred.SecretAccessKey,
					SessionToken:    cred.SessionToken,
				},
				Region:          signRegion,
				Service:         signService,
				NoContentSHA256: signNoHash,
			}
			if signPresign > 0 {
				u, err := signer.Presign(req, signPresign, now)
				if err != nil {
					log.Fatalf("❌ Presigning failed: %v", err)
				}
				fmt.Println(u.String())
				return
			}
			if err := signer.Sign(req, []byte(signBody), now); err != nil {
				log.Fatalf("❌ Signing failed: %v", err)
			}
			printSignedRequest(req)

		case transport.ProviderAWSV2:
			_, cred := resolveAWS(signProfile, signRegion)
			v2 := &sign.V2Signer{
				Credentials: sign.Credentials{
					AccessKeyID:     cred.AccessKeyID,
					SecretAccessKey: cred.SecretAccessKey,
					SessionToken:    cred.SessionToken,
				},
				APIVersion: signAPIVersion,
			}
			if method == http.MethodPost {
				form, err := url.ParseQuery(signBody)
				if err != nil {
					log.Fatalf("❌ --body is not form-encoded: %v", err)
				}
				if err := v2.SignForm(req, form, now); err != nil {
					log.Fatalf("❌ Signing failed: %v", err)
				}
				printSignedRequest(req)
				return
			}
			if err := v2.SignQuery(req, now); err != nil {
				log.Fatalf("❌ Signing failed: %v", err)
			}
			fmt.Println(req.URL.String())

		case transport.ProviderAzure:
			cred := resolveAzure(signAccount, signAzureKey)
			switch {
			case len(cred.Key) > 0:
				if err := azure.SignSharedKey(req, cred.Account, cred.Key, now); err != nil {
					log.Fatalf("❌ Signing failed: %v", err)
				}
			case strings.Contains(cred.Token, "sig="):
				sas := strings.TrimPrefix(cred.Token, "?")
				if req.URL.RawQuery == "" {
					req.URL.RawQuery = sas
				} else {
					req.URL.RawQuery += "&" + sas
				}
			case cred.Token != "":
				req.Header.Set("Authorization", "Bearer "+cred.Token)
				req.Header.Set("x-ms-version", azure.ServiceVersion)
				req.Header.Set("x-ms-date", now.UTC().Format(http.TimeFormat))
			default:
				log.Fatal("❌ Resolved Azure credentials carry no key or token")
			}
			printSignedRequest(req)
		}
	},
}

func printSignedRequest(req *http.Request) {
	fmt.Printf("%s %s\n", req.Method, req.URL.String())
	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range req.Header[name] {
			fmt.Printf("%s: %s\n", name, v)
		}
	}
}

func init() {
	signCmd.Flags().StringVar(&signProvider, "provider", "aws", "Signing scheme: aws, awsv2 or azure")
	signCmd.Flags().StringVar(&signProfile, "profile", "", "AWS profile to resolve credentials from")
	signCmd.Flags().StringVar(&signRegion, "region", "", "AWS region (inferred from the host when empty)")
	signCmd.Flags().StringVar(&signService, "service", "", "AWS service name (inferred from the host when empty)")
	signCmd.Flags().StringVar(&signAPIVersion, "api-version", "", "API Version parameter for SigV2 requests")
	signCmd.Flags().StringVar(&signBody, "body", "", "Request body to sign over")
	signCmd.Flags().DurationVar(&signPresign, "presign", 0, "Emit a presigned URL valid for this duration instead of headers")
	signCmd.Flags().StringVar(&signAccount, "account", "", "Azure storage account name")
	signCmd.Flags().StringVar(&signAzureKey, "key", "", "Azure storage account key (base64)")
	signCmd.Flags().BoolVar(&signNoHash, "no-content-sha256", false, "Omit x-amz-content-sha256 (non-S3 services)")
	rootCmd.AddCommand(signCmd)
}
