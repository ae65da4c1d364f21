// internal/common/aws/sns.go
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the part of *sns.Client used for push fan-out.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	api      SNSAPI
	topicARN string
}

func NewSNSClient(ctx context.Context, region, topicARN string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewSNSClientFromAPI(sns.NewFromConfig(cfg), topicARN), nil
}

func NewSNSClientFromAPI(api SNSAPI, topicARN string) *SNSClient {
	return &SNSClient{api: api, topicARN: topicARN}
}

// PublishToUser publishes message on the push topic with string attributes
// that subscription filter policies route on (userId at minimum).
func (s *SNSClient) PublishToUser(ctx context.Context, userID, subject, message string, attrs map[string]string) (string, error) {
	values := map[string]types.MessageAttributeValue{
		"userId": {DataType: aws.String("String"), StringValue: aws.String(userID)},
	}
	for k, v := range attrs {
		values[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	out, err := s.api.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(s.topicARN),
		Subject:           aws.String(subject),
		Message:           aws.String(message),
		MessageAttributes: values,
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
