// Package discovery resolves the connection descriptors the orchestrator hands
// to the worker through its environment.
package discovery

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Descriptor identifies a remote endpoint.
type Descriptor struct {
	// URL is the network address of the target service.
	URL string
	// Authentication is the credential grant requested for the connection, or
	// nil for an unauthenticated endpoint.
	Authentication *OAuth2ClientCredentialsGrant
}

// OAuth2ClientCredentialsGrant is the only credential grant the descriptor
// schema can carry.
type OAuth2ClientCredentialsGrant struct {
	// URL is the token endpoint of the grant.
	URL string
}

// Authenticated reports whether the descriptor requests a credential grant.
func (d Descriptor) Authenticated() bool {
	return d.Authentication != nil
}

// String renders the descriptor in the text format it was parsed from.
func (d Descriptor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "url: %q", d.URL)
	if d.Authentication != nil {
		fmt.Fprintf(&b, " oauth2_client_credentials_grant { url: %q }", d.Authentication.URL)
	}
	return b.String()
}

// schema holds the runtime-built message type for ApiServiceDescriptor.
type schema struct {
	descriptor protoreflect.MessageDescriptor
	url        protoreflect.FieldDescriptor
	grant      protoreflect.FieldDescriptor
	grantURL   protoreflect.FieldDescriptor
}

var descriptorSchema = mustBuildSchema()

func mustBuildSchema() schema {
	s, err := buildSchema()
	if err != nil {
		panic(fmt.Sprintf("build service descriptor schema: %v", err))
	}
	return s
}

func buildSchema() (schema, error) {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("sdkharness/v1/endpoints.proto"),
		Package: proto.String("sdkharness.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("OAuth2ClientCredentialsGrant"),
				Field: []*descriptorpb.FieldDescriptorProto{{
					Name:     proto.String("url"),
					JsonName: proto.String("url"),
					Number:   proto.Int32(1),
					Label:    optional,
					Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
				}},
			},
			{
				Name: proto.String("ApiServiceDescriptor"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:     proto.String("url"),
						JsonName: proto.String("url"),
						Number:   proto.Int32(2),
						Label:    optional,
						Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
					{
						Name:       proto.String("oauth2_client_credentials_grant"),
						JsonName:   proto.String("oauth2ClientCredentialsGrant"),
						Number:     proto.Int32(3),
						Label:      optional,
						Type:       descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName:   proto.String(".sdkharness.v1.OAuth2ClientCredentialsGrant"),
						OneofIndex: proto.Int32(0),
					},
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{{
					Name: proto.String("authentication"),
				}},
			},
		},
	}

	fd, err := protodesc.NewFile(file, new(protoregistry.Files))
	if err != nil {
		return schema{}, err
	}
	md := fd.Messages().ByName("ApiServiceDescriptor")
	grant := md.Fields().ByName("oauth2_client_credentials_grant")
	return schema{
		descriptor: md,
		url:        md.Fields().ByName("url"),
		grant:      grant,
		grantURL:   grant.Message().Fields().ByName("url"),
	}, nil
}

// ParseDescriptor parses the protobuf text form of an ApiServiceDescriptor,
// e.g. `url: 'localhost:9000'`. Unknown fields, syntax errors and a missing
// url are rejected.
func ParseDescriptor(text string) (Descriptor, error) {
	if strings.TrimSpace(text) == "" {
		return Descriptor{}, fmt.Errorf("descriptor is empty")
	}

	msg := dynamicpb.NewMessage(descriptorSchema.descriptor)
	if err := prototext.Unmarshal([]byte(text), msg); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}

	d := Descriptor{URL: strings.TrimSpace(msg.Get(descriptorSchema.url).String())}
	if d.URL == "" {
		return Descriptor{}, fmt.Errorf("descriptor url is required")
	}
	if msg.Has(descriptorSchema.grant) {
		grantURL := msg.Get(descriptorSchema.grant).Message().Get(descriptorSchema.grantURL).String()
		// A grant without a token endpoint requests nothing.
		if strings.TrimSpace(grantURL) != "" {
			d.Authentication = &OAuth2ClientCredentialsGrant{URL: grantURL}
		}
	}
	return d, nil
}
