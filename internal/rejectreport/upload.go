package rejectreport

import (
	"bytes"
	"context"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/windowguard/internal/xerrors"
)

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectKey is prefix/YYYY-MM-DD.json.
func ObjectKey(prefix, date string) string {
	if prefix == "" {
		return date + ".json"
	}
	return path.Join(prefix, date+".json")
}

// Upload stores the JSON report in bucket and returns the object key. A rerun
// for the same day overwrites the previous object.
func Upload(ctx context.Context, api PutObjectAPI, bucket, prefix string, r Report) (string, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, r); err != nil {
		return "", xerrors.Wrap(err, "encode report")
	}
	key := ObjectKey(prefix, r.Date)
	_, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "put s3://%s/%s", bucket, key)
	}
	return key, nil
}
